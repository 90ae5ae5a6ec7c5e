package httpapi

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements a fixed-window request limiter backed by
// Redis INCR/EXPIRE, keyed by the caller-supplied key (rateLimitMiddleware
// passes the remote address).
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter constructs a limiter allowing limit requests per
// window, per key.
func NewRedisRateLimiter(addr, password string, db, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether key may proceed, incrementing its window counter.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	return count <= int64(l.limit), nil
}

// Close releases the underlying Redis connection pool.
func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}
