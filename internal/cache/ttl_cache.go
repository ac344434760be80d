package cache

import (
	"sync"
	"time"
)

// Cache is a minimal TTL cache; values expire lazily on read.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
}

func NewTTLCache[K comparable, V any]() Cache[K, V] {
	return &ttlCache[K, V]{items: make(map[K]entry[V])}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(item.expiresAt) {
		var zero V
		if ok {
			c.Delete(key)
		}
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
