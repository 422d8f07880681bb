package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeZSet implements zsetClient over an in-memory member->score map.
type fakeZSet struct {
	mu   sync.Mutex
	sets map[string]map[string]float64
}

func newFakeZSet() *fakeZSet {
	return &fakeZSet{sets: make(map[string]map[string]float64)}
}

func (f *fakeZSet) set(key string) map[string]float64 {
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]float64)
	}
	return f.sets[key]
}

func (f *fakeZSet) ZRemRangeByScore(_ context.Context, key, minScore, maxScore string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lo, hi float64
	fmt.Sscanf(minScore, "%f", &lo)
	fmt.Sscanf(maxScore, "%f", &hi)
	removed := int64(0)
	for member, score := range f.set(key) {
		if score >= lo && score <= hi {
			delete(f.sets[key], member)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeZSet) ZCard(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.set(key))), nil)
}

func (f *fakeZSet) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		f.set(key)[fmt.Sprint(m.Member)] = m.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeZSet) ZRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := int64(0)
	for _, m := range members {
		if _, ok := f.set(key)[fmt.Sprint(m)]; ok {
			delete(f.sets[key], fmt.Sprint(m))
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeZSet) ZRangeByScoreWithScores(_ context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lo, hi float64
	fmt.Sscanf(opt.Min, "%f", &lo)
	fmt.Sscanf(opt.Max, "%f", &hi)
	var out []redis.Z
	for member, score := range f.set(key) {
		if score >= lo && score <= hi {
			out = append(out, redis.Z{Member: member, Score: score})
		}
	}
	return redis.NewZSliceCmdResult(out, nil)
}

func (f *fakeZSet) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRedisLimiterForTest(t *testing.T, limits map[string]HostLimit) (*RedisLimiter, *fakeZSet, *fakeClock) {
	t.Helper()
	z := newFakeZSet()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewRedisLimiter(z, limits, &seqIDs{}, clock, zap.NewNop())
	l.poll = time.Millisecond
	return l, z, clock
}

func TestRedisLimiter_AcquireRelease(t *testing.T) {
	t.Parallel()

	l, z, _ := newRedisLimiterForTest(t, testLimits())
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	rel2, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	require.Len(t, z.set(semaphoreKey("greenhouse")), 2)

	_, err = l.Acquire(ctx, "greenhouse", false, 0)
	require.ErrorIs(t, err, ErrLimitFull)

	rel1()
	rel1() // idempotent
	require.Len(t, z.set(semaphoreKey("greenhouse")), 1)

	rel3, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	rel2()
	rel3()
	require.Empty(t, z.set(semaphoreKey("greenhouse")))
}

func TestRedisLimiter_PurgesAbandonedHolders(t *testing.T) {
	t.Parallel()

	l, _, clock := newRedisLimiterForTest(t, testLimits())
	ctx := context.Background()

	// Two holders acquire and crash (never release).
	_, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "greenhouse", false, 0)
	require.ErrorIs(t, err, ErrLimitFull)

	// Past the host timeout their entries are treated as abandoned.
	clock.advance(2 * time.Minute)
	rel, err := l.Acquire(ctx, "greenhouse", false, 0)
	require.NoError(t, err)
	rel()
}

func TestRedisLimiter_TokenWindow(t *testing.T) {
	t.Parallel()

	l, _, clock := newRedisLimiterForTest(t, testLimits())
	ctx := context.Background()

	require.NoError(t, l.ConsumeTokens(ctx, "llm", 700, false, 0))
	require.NoError(t, l.ConsumeTokens(ctx, "llm", 300, false, 0))
	require.ErrorIs(t, l.ConsumeTokens(ctx, "llm", 10, false, 0), ErrLimitFull)

	// Window slides: old entries age out after a minute.
	clock.advance(61 * time.Second)
	require.NoError(t, l.ConsumeTokens(ctx, "llm", 1000, false, 0))
}

func TestRedisLimiter_UnknownHostUngated(t *testing.T) {
	t.Parallel()

	l, z, _ := newRedisLimiterForTest(t, testLimits())
	rel, err := l.Acquire(context.Background(), "nobody.example", false, 0)
	require.NoError(t, err)
	rel()
	require.Empty(t, z.sets)
	require.NoError(t, l.ConsumeTokens(context.Background(), "nobody.example", 1, false, 0))
}
