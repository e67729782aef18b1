// Package cache provides a generic in-memory TTL cache used for external lookup results.
package cache

import (
	"sync"
	"time"
)

// Cache is the read/write surface shared by in-memory and persistent caches.
type Cache[K comparable, V any] interface {
	// Get returns the cached value and true, or the zero value and false on a
	// miss or an expired entry.
	Get(key K) (V, bool)
	// Set stores value under key, replacing any prior entry.
	Set(key K, value V)
}

// Entry is a cached value with the time it was stored.
type Entry[K comparable, V any] struct {
	Key      K
	Value    V
	CachedAt time.Time
}

// TTLCache is a mutex-guarded map with a fixed TTL per instance.
// Expiry is evaluated at read time as now - cachedAt >= ttl. Reads never
// extend an entry's life and never evict it.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[K]Entry[K, V]

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures a TTLCache.
type Option[K comparable, V any] func(*TTLCache[K, V])

// WithClock overrides the time source (for testing).
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TTLCache[K, V]) {
		c.nowFunc = now
	}
}

// New creates a TTLCache whose entries expire ttl after they were set.
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		ttl:     ttl,
		entries: make(map[K]Entry[K, V]),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the fixed lifetime of entries in this cache.
func (c *TTLCache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok || c.expired(e) {
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key with cachedAt = now, overwriting any prior entry.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[K, V]{Key: key, Value: value, CachedAt: c.nowFunc()}
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes expired entries and returns how many were dropped.
func (c *TTLCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *TTLCache[K, V]) expired(e Entry[K, V]) bool {
	return c.nowFunc().Sub(e.CachedAt) >= c.ttl
}
