package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// zsetClient is the slice of the Redis API the limiter needs. *redis.Client
// satisfies it; tests substitute a fake.
type zsetClient interface {
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLimiter implements pipeline.HostLimiter over shared Redis state.
type RedisLimiter struct {
	rdb    zsetClient
	limits map[string]HostLimit
	ids    pipeline.IDGenerator
	clock  pipeline.Clock
	logger *zap.Logger

	// poll overrides acquirePoll in tests.
	poll time.Duration
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// NewRedisLimiter constructs a limiter over the given client and per-host
// limits. Hosts without a configured limit pass through ungated.
func NewRedisLimiter(
	rdb zsetClient,
	limits map[string]HostLimit,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limits: limits,
		ids:    ids,
		clock:  clock,
		logger: logger,
		poll:   acquirePoll,
	}
}

func semaphoreKey(host string) string { return "ratelimit:" + host }
func tokenKey(host string) string     { return "ratelimit:" + host + ":tokens" }

// Acquire blocks until a concurrency slot for host is free, or fails per the
// wait/maxWait contract. The returned release func removes the holder token
// and is safe to call exactly once from a defer.
func (l *RedisLimiter) Acquire(
	ctx context.Context,
	host string,
	wait bool,
	maxWait time.Duration,
) (func(), error) {
	limit, ok := l.limits[host]
	if !ok {
		// Unknown hosts are not gated.
		return func() {}, nil
	}

	token, err := l.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("limiter token id: %w", err)
	}

	key := semaphoreKey(host)
	start := l.clock.Now()

	for {
		now := l.clock.Now()
		cutoff := now.Add(-limit.HolderTimeout)

		// Purge abandoned holders before checking occupancy.
		if err := l.rdb.ZRemRangeByScore(ctx, key, "0", formatScore(cutoff)).Err(); err != nil {
			return nil, fmt.Errorf("purge expired holders: %w", err)
		}

		current, err := l.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("count holders: %w", err)
		}

		if current < int64(limit.MaxConcurrent) {
			if err := l.rdb.ZAdd(ctx, key, redis.Z{
				Score:  scoreOf(now),
				Member: token,
			}).Err(); err != nil {
				return nil, fmt.Errorf("register holder: %w", err)
			}
			metrics.ObserveRateLimitWait(host, now.Sub(start))
			l.logger.Debug("rate limit slot acquired",
				zap.String("host", host),
				zap.Int64("concurrent", current+1),
				zap.Int("max", limit.MaxConcurrent),
			)
			var once sync.Once
			release := func() {
				once.Do(func() {
					// Release runs on the caller's way out, possibly after
					// ctx is done; give it its own short deadline.
					relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := l.rdb.ZRem(relCtx, key, token).Err(); err != nil {
						l.logger.Warn("rate limit release failed",
							zap.String("host", host), zap.Error(err))
					}
				})
			}
			return release, nil
		}

		if !wait {
			return nil, fmt.Errorf("host %s at %d/%d: %w", host, current, limit.MaxConcurrent, ErrLimitFull)
		}
		if l.clock.Now().Sub(start) > maxWait {
			return nil, fmt.Errorf("host %s after %s: %w", host, maxWait, ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire canceled: %w", ctx.Err())
		case <-time.After(l.poll):
		}
	}
}

// ConsumeTokens succeeds once the host's rolling one-minute window has
// headroom for n tokens. Hosts without a token budget pass through.
func (l *RedisLimiter) ConsumeTokens(
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

	key := tokenKey(host)
	start := l.clock.Now()

	for {
		now := l.clock.Now()
		windowStart := now.Add(-tokenWindow)

		if err := l.rdb.ZRemRangeByScore(ctx, key, "0", formatScore(windowStart)).Err(); err != nil {
			return fmt.Errorf("purge token window: %w", err)
		}

		entries, err := l.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: formatScore(windowStart),
			Max: formatScore(now),
		}).Result()
		if err != nil {
			return fmt.Errorf("read token window: %w", err)
		}

		current := 0
		for _, e := range entries {
			current += memberTokens(e.Member)
		}

		if current+n <= limit.TokensPerMinute {
			member, idErr := l.ids.NewID()
			if idErr != nil {
				return fmt.Errorf("token entry id: %w", idErr)
			}
			if err := l.rdb.ZAdd(ctx, key, redis.Z{
				Score:  scoreOf(now),
				Member: fmt.Sprintf("%d:%s", n, member),
			}).Err(); err != nil {
				return fmt.Errorf("record tokens: %w", err)
			}
			if err := l.rdb.Expire(ctx, key, 2*tokenWindow).Err(); err != nil {
				l.logger.Warn("token key expire failed", zap.String("host", host), zap.Error(err))
			}
			return nil
		}

		if !wait {
			return fmt.Errorf("host %s tokens %d+%d over %d: %w",
				host, current, n, limit.TokensPerMinute, ErrLimitFull)
		}
		if l.clock.Now().Sub(start) > maxWait {
			return fmt.Errorf("host %s token wait after %s: %w", host, maxWait, ErrWaitTimeout)
		}

		overage := current + n - limit.TokensPerMinute
		sleep := tokenWaitEstimate(overage, limit.TokensPerMinute)
		l.logger.Debug("waiting for token headroom",
			zap.String("host", host),
			zap.Int("needed", overage),
			zap.Duration("sleep", sleep),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("token wait canceled: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatScore(t time.Time) string {
	return strconv.FormatFloat(scoreOf(t), 'f', 6, 64)
}

// memberTokens decodes the leading count from a "N:uuid" window member.
func memberTokens(member interface{}) int {
	s, ok := member.(string)
	if !ok {
		return 0
	}
	head, _, found := strings.Cut(s, ":")
	if !found {
		return 0
	}
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}
