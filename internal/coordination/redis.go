package coordination

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "ratelimit:"
	defaultTimeout = 50 * time.Millisecond
)

// RedisClient implements Client with one Lua script per operation, so each
// evaluation is atomic on the server and costs a single round-trip.
type RedisClient struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

type RedisOptions struct {
	Prefix  string           // Default: "ratelimit:"
	Timeout time.Duration    // Per-call deadline. Default: 50ms
	Now     func() time.Time // Clock sent to the scripts. Default: time.Now
}

func NewRedisClient(rdb redis.UniversalClient, opts RedisOptions) *RedisClient {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &RedisClient{
		rdb:     rdb,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
		now:     opts.Now,
	}
}

func (c *RedisClient) storeKey(key string) string {
	return c.prefix + key
}

func (c *RedisClient) run(ctx context.Context, op string, script *redis.Script, key string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := script.Run(ctx, c.rdb, []string{c.storeKey(key)}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, key, err)
	}
	return n, nil
}

func (c *RedisClient) nowMillis() int64 {
	return c.now().UnixMilli()
}

func (c *RedisClient) AllowTokenBucket(ctx context.Context, key string, capacity int, refillRate float64) (bool, error) {
	n, err := c.run(ctx, "token_bucket", tokenBucketScript, key, capacity, refillRate, c.nowMillis())
	return n == 1, err
}

func (c *RedisClient) AllowLeakyBucket(ctx context.Context, key string, capacity int, leakRate float64) (bool, error) {
	n, err := c.run(ctx, "leaky_bucket", tokenBucketScript, key, capacity, leakRate, c.nowMillis())
	return n == 1, err
}

func (c *RedisClient) AllowSlidingWindow(ctx context.Context, key string, maxRequests, windowSeconds int) (bool, error) {
	now := c.nowMillis()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()
	n, err := c.run(ctx, "sliding_window", slidingWindowScript, key, maxRequests, windowSeconds*1000, now, member)
	return n == 1, err
}

func (c *RedisClient) AllowFixedWindow(ctx context.Context, key string, maxRequests, windowSeconds int) (bool, error) {
	n, err := c.run(ctx, "fixed_window", fixedWindowScript, key, maxRequests, windowSeconds*1000, c.nowMillis())
	return n == 1, err
}

func (c *RedisClient) Remaining(ctx context.Context, key string, maxRequests int) (int, error) {
	n, err := c.run(ctx, "remaining", remainingScript, key, maxRequests, c.nowMillis())
	return int(n), err
}

func (c *RedisClient) TimeToLive(ctx context.Context, key string, algorithm models.Algorithm) (int, error) {
	n, err := c.run(ctx, "ttl", timeToLiveScript, key, string(algorithm), c.nowMillis())
	return int(n), err
}

func (c *RedisClient) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.Del(ctx, c.storeKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: reset %s: %w", ErrStoreUnavailable, key, err)
	}
	return nil
}

// Scans and deletes every key under the client's prefix. Not bounded by the
// per-call timeout since it is an administrative operation.
func (c *RedisClient) ResetAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("%w: scan: %w", ErrStoreUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: reset all: %w", ErrStoreUnavailable, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	return nil
}
