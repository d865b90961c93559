package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter allows limit requests per key in each fixed window. The
// counter lives in Redis so all instances share it.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter connects to the Redis at url (redis://[:password@]host:port[/db]).
// The limiter owns the client and closes it on Close.
func NewRedisLimiter(url, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	if url == "" {
		return nil, errors.New("ratelimit: redis URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis URL: %w", err)
	}
	return NewRedisLimiterWithClient(redis.NewClient(opts), prefix, limit, window)
}

// NewRedisLimiterWithClient wraps an existing client.
func NewRedisLimiterWithClient(client *redis.Client, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	if window < time.Second {
		return nil, fmt.Errorf("ratelimit: window must be at least 1s, got %s", window)
	}
	if prefix == "" {
		prefix = "mentora:rl"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window, now: time.Now}, nil
}

// Ping checks connectivity.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Allow increments the counter for key in the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixNano() / int64(l.window)
	rkey := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, rkey)
		p.Expire(ctx, rkey, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr %s: %w", rkey, err)
	}
	return incr.Val() <= l.limit, nil
}

// Close closes the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
