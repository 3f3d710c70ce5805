// Package ratelimit implements fixed-window counters over the shared store,
// keyed per user and per action kind. Consumption is a single atomic INCR,
// so concurrent connections of the same user share one budget.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a window's budget is exhausted.
var ErrRateLimited = errors.New("rate limit exceeded")

// Counter is the store capability the limiter needs: atomically increment a
// key and, when this hit opened the window, arm its expiry.
type Counter interface {
	// Incr increments key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// ExpireOnce arms the TTL only if the key has none yet.
	ExpireOnce(ctx context.Context, key string, ttl time.Duration) error
}

// RedisCounter implements Counter on a go-redis client.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter wraps rdb as a Counter.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

func (c *RedisCounter) ExpireOnce(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.ExpireNX(ctx, key, ttl).Err()
}

// Limiter hands out fixed-window budgets. The zero budget passed to Consume
// falls back to the default window.
type Limiter struct {
	counter Counter
	prefix  string

	defaultPoints   int64
	defaultDuration time.Duration
}

// NewLimiter builds a Limiter with the given default window.
func NewLimiter(counter Counter, prefix string, points int, duration time.Duration) *Limiter {
	return &Limiter{
		counter:         counter,
		prefix:          prefix,
		defaultPoints:   int64(points),
		defaultDuration: duration,
	}
}

// Consume takes one unit from the default window for key.
// It returns ErrRateLimited once the budget is exhausted.
func (l *Limiter) Consume(ctx context.Context, key string) error {
	return l.ConsumeWithLimit(ctx, key, l.defaultPoints, l.defaultDuration)
}

// ConsumeWithLimit takes one unit from a dedicated window for key. Actions
// with their own budget (send_message) use this directly.
func (l *Limiter) ConsumeWithLimit(ctx context.Context, key string, points int64, duration time.Duration) error {
	storeKey := l.prefix + "ratelimit:" + key
	n, err := l.counter.Incr(ctx, storeKey)
	if err != nil {
		return err
	}
	if n == 1 {
		if err := l.counter.ExpireOnce(ctx, storeKey, duration); err != nil {
			return err
		}
	}
	if n > points {
		return ErrRateLimited
	}
	return nil
}
