package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/doc-uploader/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 5
	window                   = time.Second
	minWaitStep              = 5 * time.Millisecond
)

// Fixed-window counter; the key expires with its window.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps ingestion calls per collection and second across every
// API instance sharing the Redis server.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, collection string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key, err := windowKey(collection, r.now())
	if err != nil {
		return false, err
	}

	result, err := allowScript.Run(ctx, r.client, []string{key}, r.limitPerSec, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate ingest rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the collection has budget in the current window, sleeping
// to the start of the next window after each rejection.
func (r *RedisRateLimiter) Wait(ctx context.Context, collection string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, err := r.Allow(ctx, collection)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, untilNextWindow(r.now())); err != nil {
			return err
		}
	}
}

func windowKey(collection string, now time.Time) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(collection))
	if normalized == "" {
		return "", fmt.Errorf("collection is required")
	}
	return fmt.Sprintf("ratelimit:ingest:%s:%d", normalized, now.UTC().Unix()), nil
}

func untilNextWindow(now time.Time) time.Duration {
	next := now.Truncate(window).Add(window)
	d := next.Sub(now)
	if d < minWaitStep {
		d = minWaitStep
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
