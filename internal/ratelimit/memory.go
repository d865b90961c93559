package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

// MemoryLimiter paces each client with the generic cell rate algorithm.
// Per key it stores only the theoretical arrival time (tat) of the next
// trigger: triggers are spaced one interval apart, and a client may run
// ahead of that schedule by at most burst-1 intervals.
//
// A key whose tat has passed is indistinguishable from a new one, so the
// sweeper drops it.
type MemoryLimiter struct {
	interval time.Duration // 1/rate
	ahead    time.Duration // interval * (burst-1)
	burst    int
	now      func() time.Time

	mu  sync.Mutex
	tat map[string]time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter admits rate triggers per second per key with bursts of
// up to burst. Call Close to stop the sweeper.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	interval := time.Duration(float64(time.Second) / rate)
	m := &MemoryLimiter{
		interval: interval,
		ahead:    interval * time.Duration(max(burst-1, 0)),
		burst:    burst,
		now:      time.Now,
		tat:      make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow admits one trigger for key if the client is not too far ahead of
// its schedule.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if m.burst < 1 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	tat := m.tat[key]
	if tat.Before(now) {
		tat = now
	}
	if tat.Sub(now) > m.ahead {
		return false, nil
	}
	m.tat[key] = tat.Add(m.interval)
	return true, nil
}

// RetryAfter reports how long key must wait before Allow admits it again.
func (m *MemoryLimiter) RetryAfter(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	wait := m.tat[key].Sub(m.now()) - m.ahead
	return max(wait, 0)
}

// Close stops the sweeper. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryLimiter) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, tat := range m.tat {
		if !tat.After(now) {
			delete(m.tat, key)
		}
	}
}
