package render

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mentora-platform/mentora/internal/model"
)

// CachedStore is a TTL cache in front of a TemplateStore. Concurrent
// misses for the same name share one load. Failed loads, including
// not-found, are not cached.
type CachedStore struct {
	next  TemplateStore
	ttl   time.Duration
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedTemplate
	done    chan struct{}
	once    sync.Once
}

type cachedTemplate struct {
	tmpl      model.MessageTemplate
	expiresAt time.Time
}

// NewCachedStore wraps next. Call Close to stop background eviction.
func NewCachedStore(next TemplateStore, ttl time.Duration) *CachedStore {
	c := &CachedStore{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cachedTemplate),
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// GetTemplate returns a cached template or loads it from the wrapped store.
func (c *CachedStore) GetTemplate(ctx context.Context, name string) (model.MessageTemplate, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.tmpl, nil
	}

	// The shared load must not die with whichever caller arrived first.
	v, err, _ := c.group.Do(name, func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[name]
		c.mu.RUnlock()
		if ok && time.Now().Before(e.expiresAt) {
			return e.tmpl, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		tmpl, err := c.next.GetTemplate(loadCtx, name)
		if err != nil {
			return model.MessageTemplate{}, err
		}
		c.mu.Lock()
		c.entries[name] = cachedTemplate{tmpl: tmpl, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return tmpl, nil
	})
	if err != nil {
		return model.MessageTemplate{}, err
	}
	return v.(model.MessageTemplate), nil
}

// Invalidate drops a cached template so the next read reloads it.
func (c *CachedStore) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	c.group.Forget(name)
}

// Close stops the eviction goroutine. It is safe to call more than once.
func (c *CachedStore) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *CachedStore) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
