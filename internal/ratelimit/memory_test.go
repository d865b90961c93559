package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryLimiter(t *testing.T, rate float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m := newTestMemoryLimiter(t, 10, 3)
	ctx := context.Background()

	for i := range 3 {
		ok, err := m.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d is within burst", i)
	}
	ok, err := m.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiterRefill(t *testing.T) {
	m := newTestMemoryLimiter(t, 2, 2)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m.now = clock.Now
	ctx := context.Background()

	for range 2 {
		_, _ = m.Allow(ctx, "k")
	}
	ok, _ := m.Allow(ctx, "k")
	assert.False(t, ok)

	clock.Advance(500 * time.Millisecond)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "one token refills after half a second at 2/s")
	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryLimiterCapsAtBurst(t *testing.T) {
	m := newTestMemoryLimiter(t, 1000, 3)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m.now = clock.Now
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k")
	clock.Advance(time.Hour)

	for i := range 3 {
		ok, _ := m.Allow(ctx, "k")
		assert.True(t, ok, "request %d after idle", i)
	}
	ok, _ := m.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m := newTestMemoryLimiter(t, 10, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := newTestMemoryLimiter(t, 0.001, 50)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if ok, _ := m.Allow(ctx, "shared"); ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load())
}

func TestMemoryLimiterSweepDropsCaughtUpKeys(t *testing.T) {
	m := newTestMemoryLimiter(t, 1, 5)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m.now = clock.Now
	ctx := context.Background()

	_, _ = m.Allow(ctx, "idle")
	clock.Advance(2 * time.Second)
	_, _ = m.Allow(ctx, "active")
	m.sweep()

	m.mu.Lock()
	assert.NotContains(t, m.tat, "idle")
	assert.Contains(t, m.tat, "active")
	m.mu.Unlock()

	for i := range 5 {
		ok, _ := m.Allow(ctx, "idle")
		assert.True(t, ok, "swept key gets a full burst, request %d", i)
	}
}

func TestMemoryLimiterRetryAfter(t *testing.T) {
	m := newTestMemoryLimiter(t, 0.5, 2)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m.now = clock.Now
	ctx := context.Background()

	assert.Zero(t, m.RetryAfter("k"))
	for range 2 {
		ok, _ := m.Allow(ctx, "k")
		require.True(t, ok)
	}
	ok, _ := m.Allow(ctx, "k")
	require.False(t, ok)
	assert.Equal(t, 2*time.Second, m.RetryAfter("k"))

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, m.RetryAfter("k"))

	clock.Advance(500 * time.Millisecond)
	assert.Zero(t, m.RetryAfter("k"))
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryLimiterZeroBurstDenies(t *testing.T) {
	m := newTestMemoryLimiter(t, 10, 0)
	ok, err := m.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	for range 100 {
		ok, err := l.Allow(context.Background(), "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NoError(t, l.Close())
}
