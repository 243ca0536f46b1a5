// Package cache provides a size-bounded cache with per-entry expiry.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is safe for concurrent use. Entries are evicted when the cache is
// full (least recently used first) or when their TTL elapses.
type Cache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// New creates a cache holding at most size entries for ttl each.
// size <= 0 means unbounded; ttl <= 0 means entries never expire.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if ttl < 0 {
		ttl = 0
	}
	if size < 0 {
		size = 0
	}
	return &Cache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

func (c *Cache[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

func (c *Cache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
