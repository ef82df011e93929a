package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	data    []byte
	expires time.Time
}

func (it memoryItem) live(now time.Time) bool {
	return now.Before(it.expires)
}

// MemoryCache is a process-local Cache for a single server or for tests.
// A background sweep drops expired items.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a cache swept once a minute.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithInterval(time.Minute)
}

// NewMemoryCacheWithInterval creates a cache swept every interval.
func NewMemoryCacheWithInterval(interval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go c.sweepLoop(interval)
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !it.live(c.now()) {
		return nil, ErrMiss
	}
	return append([]byte(nil), it.data...), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{data: append([]byte(nil), value...), expires: c.now().Add(ttl)}
	c.mu.Lock()
	c.items[key] = it
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	clear(c.items)
	c.mu.Unlock()
	return nil
}

// Len counts stored items, expired ones the sweep has not reached included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the sweep.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, it := range c.items {
		if !it.live(now) {
			delete(c.items, k)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)
