// Package ratelimit implements the distributed per-host gate shared by all
// workers calling a rate-limited external API. State lives in Redis so that
// independent worker processes see each other's usage; holder entries are
// timestamped and self-expiring, so a crashed holder only blocks its slot
// until the host timeout passes.
package ratelimit

import (
	"errors"
	"time"
)

// Sentinel errors returned by Acquire and ConsumeTokens.
var (
	// ErrLimitFull is returned when wait=false and no slot is free.
	ErrLimitFull = errors.New("rate limit full")
	// ErrWaitTimeout is returned when maxWait elapses before a slot or token
	// headroom becomes available.
	ErrWaitTimeout = errors.New("rate limit wait timeout")
)

// HostLimit is the budget for one external host.
type HostLimit struct {
	// MaxConcurrent bounds simultaneous holders.
	MaxConcurrent int
	// HolderTimeout is the age past which a holder entry is treated as
	// abandoned and purged.
	HolderTimeout time.Duration
	// TokensPerMinute is the rolling one-minute token budget. Zero disables
	// the token gate (non-LLM hosts).
	TokensPerMinute int
}

// tokenWindow is the sliding window length for the token gate.
const tokenWindow = time.Minute

// acquirePoll is how often a waiting acquirer re-checks occupancy.
const acquirePoll = 200 * time.Millisecond

// tokenWaitEstimate returns how long a caller should sleep before retrying a
// token consume that overshot the budget: proportional to the overage at the
// budget's refill rate, clamped to [1s, 5s].
func tokenWaitEstimate(overage, tokensPerMinute int) time.Duration {
	if tokensPerMinute <= 0 {
		return time.Second
	}
	perSecond := float64(tokensPerMinute) / 60.0
	wait := time.Duration(float64(overage) / perSecond * float64(time.Second))
	if wait > 5*time.Second {
		wait = 5 * time.Second
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}
