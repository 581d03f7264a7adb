// Package cache provides a bounded, expiring read-through cache.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Loader fetches the authoritative value for a key on a cache miss
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// LoaderCache is a size and TTL bounded cache in front of a Loader.
// Concurrent misses for the same key share one load. Load errors are not cached.
type LoaderCache[K comparable, V any] struct {
	lru   *expirable.LRU[K, V]
	load  Loader[K, V]
	group singleflight.Group

	// mu guards generation and orders a finished load's store against
	// invalidations. generation is bumped by every invalidation so that a
	// load started before it neither joins nor populates a later lookup.
	mu         sync.Mutex
	generation uint64
}

// NewLoaderCache creates a cache holding at most size entries, each expiring ttl after it was written
func NewLoaderCache[K comparable, V any](size int, ttl time.Duration, load Loader[K, V]) *LoaderCache[K, V] {
	return &LoaderCache[K, V]{
		lru:  expirable.NewLRU[K, V](size, nil, ttl),
		load: load,
	}
}

// Get returns the cached value or loads it
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	flightKey := fmt.Sprintf("%d/%v", gen, key)

	res, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		v, err := c.load(ctx, key)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.lru.Add(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops a single key
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Remove(key)
}

// InvalidateAll drops every key
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Purge()
}

// Len returns the number of cached entries, expired ones included until they are swept
func (c *LoaderCache[K, V]) Len() int {
	return c.lru.Len()
}
