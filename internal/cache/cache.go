// Package cache provides the bounded, TTL-expiring read cache that services
// receive through their constructors.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru    *expirable.LRU[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns a cache holding at most size entries for at most ttl each.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = 1
	}
	return &Cache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// GetOrLoad returns the cached value or calls load and caches a successful result.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.lru.Len(),
	}
}
