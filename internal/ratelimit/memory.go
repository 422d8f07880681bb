package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLimiter implements pipeline.HostLimiter in-process. Same semantics as
// the Redis limiter but scoped to one process; used for local development and
// tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	limits  map[string]HostLimit
	holders map[string]map[string]time.Time // host -> token -> acquired at
	windows map[string][]tokenEntry         // host -> consumed token entries

	nextToken int
	poll      time.Duration
	now       func() time.Time
}

type tokenEntry struct {
	n  int
	at time.Time
}

// NewMemoryLimiter constructs an in-process limiter with the given budgets.
func NewMemoryLimiter(limits map[string]HostLimit) *MemoryLimiter {
	return &MemoryLimiter{
		limits:  limits,
		holders: make(map[string]map[string]time.Time),
		windows: make(map[string][]tokenEntry),
		poll:    10 * time.Millisecond,
		now:     time.Now,
	}
}

// Acquire implements pipeline.HostLimiter.
func (l *MemoryLimiter) Acquire(
	ctx context.Context,
	host string,
	wait bool,
	maxWait time.Duration,
) (func(), error) {
	limit, ok := l.limits[host]
	if !ok {
		return func() {}, nil
	}

	start := l.now()
	for {
		if token, ok := l.tryAcquire(host, limit); ok {
			var once sync.Once
			return func() {
				once.Do(func() { l.release(host, token) })
			}, nil
		}

		if !wait {
			return nil, fmt.Errorf("host %s: %w", host, ErrLimitFull)
		}
		if l.now().Sub(start) > maxWait {
			return nil, fmt.Errorf("host %s after %s: %w", host, maxWait, ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire canceled: %w", ctx.Err())
		case <-time.After(l.poll):
		}
	}
}

func (l *MemoryLimiter) tryAcquire(host string, limit HostLimit) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	held := l.holders[host]
	if held == nil {
		held = make(map[string]time.Time)
		l.holders[host] = held
	}
	for token, at := range held {
		if now.Sub(at) > limit.HolderTimeout {
			delete(held, token)
		}
	}
	if len(held) >= limit.MaxConcurrent {
		return "", false
	}
	l.nextToken++
	token := fmt.Sprintf("t%d", l.nextToken)
	held[token] = now
	return token, true
}

func (l *MemoryLimiter) release(host, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders[host], token)
}

// ConsumeTokens implements pipeline.HostLimiter.
func (l *MemoryLimiter) ConsumeTokens(
	ctx context.Context,
	host string,
	n int,
	wait bool,
	maxWait time.Duration,
) error {
	limit, ok := l.limits[host]
	if !ok || limit.TokensPerMinute <= 0 {
		return nil
	}

	start := l.now()
	for {
		overage, ok := l.tryConsume(host, limit, n)
		if ok {
			return nil
		}

		if !wait {
			return fmt.Errorf("host %s: %w", host, ErrLimitFull)
		}
		if l.now().Sub(start) > maxWait {
			return fmt.Errorf("host %s token wait after %s: %w", host, maxWait, ErrWaitTimeout)
		}

		sleep := tokenWaitEstimate(overage, limit.TokensPerMinute)
		if sleep > l.poll {
			sleep = l.poll // keep local waits short; budget math stays identical
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("token wait canceled: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (l *MemoryLimiter) tryConsume(host string, limit HostLimit, n int) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-tokenWindow)
	kept := l.windows[host][:0]
	current := 0
	for _, e := range l.windows[host] {
		if e.at.After(windowStart) {
			kept = append(kept, e)
			current += e.n
		}
	}
	l.windows[host] = kept

	if current+n <= limit.TokensPerMinute {
		l.windows[host] = append(l.windows[host], tokenEntry{n: n, at: now})
		return 0, true
	}
	return current + n - limit.TokensPerMinute, false
}
