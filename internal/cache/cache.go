// Package cache provides a generic TTL cache whose entries are only removed
// by a periodic sweep, never on read.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for a missing key. The cacheable return controls
// whether the loaded value is stored: a value with cacheable false is handed
// back to the caller but never retained.
type Loader[V any] func(key string) (value V, cacheable bool, err error)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a concurrency-safe string-keyed cache with a fixed expiration.
// Get never evicts; expired entries are returned as-is until Sweep runs.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	sf      singleflight.Group
}

// New returns an empty cache whose entries expire after ttl. Expiry only
// takes effect when Sweep is called.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
	}
}

// Get returns the cached value for key if one exists, regardless of its age.
// Otherwise loader is invoked; concurrent misses for the same key share a
// single loader call. The loaded value is stored only when the loader reports
// it cacheable and returns no error.
func (c *Cache[V]) Get(key string, loader Loader[V]) (V, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e.value, nil
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Another caller may have stored the key while we waited.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return e.value, nil
		}

		value, cacheable, err := loader(key)
		if err != nil {
			return value, err
		}
		if cacheable {
			c.Put(key, value)
		}
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Put stores value under key with the current timestamp, replacing any
// existing entry.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: time.Now()}
	c.mu.Unlock()
}

// Sweep removes every entry whose age at now exceeds the cache TTL.
// This is the only removal path.
func (c *Cache[V]) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently stored.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
