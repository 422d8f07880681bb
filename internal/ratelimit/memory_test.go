package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLimits() map[string]HostLimit {
	return map[string]HostLimit{
		"greenhouse": {MaxConcurrent: 2, HolderTimeout: time.Minute},
		"llm":        {MaxConcurrent: 10, HolderTimeout: 2 * time.Minute, TokensPerMinute: 1000},
	}
}

func TestMemoryLimiter_ConcurrencyGate(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(testLimits())
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	rel2, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)

	// Third acquire with wait=false is rejected immediately.
	_, err = l.Acquire(ctx, "greenhouse", false, 0)
	require.ErrorIs(t, err, ErrLimitFull)

	// Third acquire with wait=true blocks until a holder releases.
	var acquired atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rel3, err := l.Acquire(ctx, "greenhouse", true, 2*time.Second)
		require.NoError(t, err)
		acquired.Store(true)
		rel3()
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, acquired.Load())

	rel1()
	wg.Wait()
	require.True(t, acquired.Load())
	rel2()
}

func TestMemoryLimiter_WaitTimeout(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(testLimits())
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	defer rel1()
	rel2, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	defer rel2()

	_, err = l.Acquire(ctx, "greenhouse", true, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestMemoryLimiter_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(testLimits())
	ctx := context.Background()

	rel, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	rel()
	rel() // double release must not free a slot twice

	r1, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	defer r1()
	r2, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	defer r2()
	_, err = l.Acquire(ctx, "greenhouse", false, 0)
	require.ErrorIs(t, err, ErrLimitFull)
}

func TestMemoryLimiter_UnknownHostUngated(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(testLimits())
	for i := 0; i < 20; i++ {
		rel, err := l.Acquire(context.Background(), "example.org", false, 0)
		require.NoError(t, err)
		rel()
	}
}

func TestMemoryLimiter_TokenBudget(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(testLimits())
	ctx := context.Background()

	require.NoError(t, l.ConsumeTokens(ctx, "llm", 600, false, 0))
	require.NoError(t, l.ConsumeTokens(ctx, "llm", 400, false, 0))

	// Budget exhausted inside the window.
	err := l.ConsumeTokens(ctx, "llm", 1, false, 0)
	require.ErrorIs(t, err, ErrLimitFull)

	// Waiting callers time out once maxWait elapses.
	err = l.ConsumeTokens(ctx, "llm", 1, true, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)

	// Hosts without a token budget pass through.
	require.NoError(t, l.ConsumeTokens(ctx, "greenhouse", 10_000, false, 0))
}

func TestMemoryLimiter_TokenWindowSlides(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(testLimits())
	base := time.Now()
	current := base
	l.now = func() time.Time { return current }

	ctx := context.Background()
	require.NoError(t, l.ConsumeTokens(ctx, "llm", 1000, false, 0))
	require.Error(t, l.ConsumeTokens(ctx, "llm", 1, false, 0))

	// Once the window slides past the first entry, headroom returns.
	current = base.Add(61 * time.Second)
	require.NoError(t, l.ConsumeTokens(ctx, "llm", 1000, false, 0))
}

func TestTokenWaitEstimate(t *testing.T) {
	t.Parallel()

	// 1000/minute refills ~16.7 tokens/second; 100 over needs ~6s, capped at 5s.
	require.Equal(t, 5*time.Second, tokenWaitEstimate(100, 1000))
	// Tiny overages still wait at least a second.
	require.Equal(t, time.Second, tokenWaitEstimate(1, 100_000))
	var errIs error = ErrWaitTimeout
	require.True(t, errors.Is(errIs, ErrWaitTimeout))
}
