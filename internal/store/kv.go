package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Windows tracks per-key counters with a bounded lifetime. Entries expire
// with their window, so memory stays bounded regardless of caller churn.
type Windows interface {
	// Incr increments the counter for key, starting a fresh window (with
	// expiry) on first increment, and returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Count returns the current counter value; 0 when the window expired.
	Count(ctx context.Context, key string) (int64, error)
}

// Locks provides short-lived leases used to serialize session advances
// across processes.
type Locks interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

var (
	_ Windows = (*RedisKV)(nil)
	_ Locks   = (*RedisKV)(nil)
)

func (r *RedisKV) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := r.c.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// The first increment of a window owns setting its expiry.
	if n == 1 {
		if err := r.c.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (r *RedisKV) Count(ctx context.Context, key string) (int64, error) {
	n, err := r.c.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (r *RedisKV) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, "1", ttl).Result()
}

func (r *RedisKV) Release(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}
