// Package ratelimit limits how fast API clients may submit triggers.
//
// Two implementations satisfy Limiter: MemoryLimiter, a per-process cell
// rate limiter, and RedisLimiter, a fixed window shared by every instance that
// points at the same Redis.
package ratelimit

import "context"

// Limiter decides whether a request identified by key may proceed.
// Implementations are safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request may proceed. An error means the
	// limiter itself is broken; callers let the request through.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases background goroutines and connections.
	Close() error
}

// NoopLimiter permits every request.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
