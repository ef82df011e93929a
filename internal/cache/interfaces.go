// Package cache keeps computed read models, such as the dashboard summary,
// between writes. Values are opaque blobs with a TTL; writers invalidate
// them by key when the rows behind them change.
package cache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache stores snapshots by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Close() error
}

// Loader fills a Cache on demand. Concurrent misses for one key share a
// single computation, and a computation that started before an
// Invalidate for its key is returned to its callers but never stored.
type Loader struct {
	cache Cache
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

// NewLoader wraps c.
func NewLoader(c Cache) *Loader {
	return &Loader{cache: c, gens: make(map[string]uint64)}
}

func (l *Loader) generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

// Load returns the cached value for key, or runs compute and caches its
// result for ttl. A failing cache read falls through to compute.
func (l *Loader) Load(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	value, err := l.cache.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrMiss) {
		log.Printf("[Cache] Get %s failed: %v", key, err)
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		gen := l.generation(key)
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if l.generation(key) == gen {
			if err := l.cache.Set(ctx, key, data, ttl); err != nil {
				log.Printf("[Cache] Set %s failed: %v", key, err)
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops keys so the next Load recomputes them.
func (l *Loader) Invalidate(ctx context.Context, keys ...string) error {
	l.mu.Lock()
	for _, k := range keys {
		l.gens[k]++
		l.group.Forget(k)
	}
	l.mu.Unlock()
	return l.cache.Delete(ctx, keys...)
}
