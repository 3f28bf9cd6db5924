package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// fixedWindowScript runs one check atomically. Each key is a hash holding
// count and reset_at (epoch ms); the key expires at reset_at so Redis does
// the cleanup sweep. ARGV[4] = 1 counts the request, 0 only reads.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local mutate = tonumber(ARGV[4])

	local count = tonumber(redis.call('HGET', key, 'count') or '0')
	local reset_at = tonumber(redis.call('HGET', key, 'reset_at') or '0')

	if reset_at == 0 or now >= reset_at then
		count = 0
		reset_at = now + window
		if mutate == 1 then
			redis.call('HSET', key, 'count', 0, 'reset_at', reset_at)
			redis.call('PEXPIREAT', key, reset_at)
		end
	end

	if mutate == 1 and count <= limit then
		count = count + 1
		redis.call('HSET', key, 'count', count)
	end

	return {count, reset_at}
`)

// RedisLimiter shares fixed windows between instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter parses redisURL, connects and pings.
func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLimiterFromClient(client), nil
}

// NewRedisLimiterFromClient wraps an existing client.
func NewRedisLimiterFromClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

// SetClock overrides the time source.
func (r *RedisLimiter) SetClock(now func() time.Time) {
	r.now = now
}

func (r *RedisLimiter) eval(ctx context.Context, key string, cfg Config, mutate bool) (int, time.Time, time.Time, error) {
	now := r.now()
	flag := 0
	if mutate {
		flag = 1
	}

	res, err := fixedWindowScript.Run(ctx, r.client, []string{keyPrefix + key},
		now.UnixMilli(), cfg.Window.Milliseconds(), cfg.Limit, flag).Int64Slice()
	if err != nil {
		return 0, time.Time{}, now, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, now, fmt.Errorf("rate limit check failed: unexpected script result %v", res)
	}

	return int(res[0]), time.UnixMilli(res[1]), now, nil
}

func (r *RedisLimiter) Check(ctx context.Context, key string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	count, resetAt, now, err := r.eval(ctx, key, cfg, true)
	if err != nil {
		return Result{}, err
	}
	return checkResult(count, cfg, resetAt, now), nil
}

func (r *RedisLimiter) GetStatus(ctx context.Context, key string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	count, resetAt, now, err := r.eval(ctx, key, cfg, false)
	if err != nil {
		return Result{}, err
	}
	return statusResult(count, cfg, resetAt, now), nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit %s: %w", key, err)
	}
	return nil
}

func (r *RedisLimiter) ResetAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan rate limit keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete rate limit keys: %w", err)
	}
	return nil
}

// Cleanup is a no-op: keys expire at their reset time.
func (r *RedisLimiter) Cleanup(context.Context) (int, error) {
	return 0, nil
}

func (r *RedisLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
