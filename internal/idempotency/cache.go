package idempotency

import (
	"sync"

	"github.com/google/uuid"
)

// Cache is the in-memory set of idempotency keys known to be processed. The
// first successful Add is the single gate deciding which of several
// near-simultaneous duplicates wins; the durable processed_transactions table
// rebuilds it after a restart.
type Cache struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]struct{}
}

func NewCache() *Cache {
	return &Cache{keys: make(map[uuid.UUID]struct{})}
}

func (c *Cache) Contains(key uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[key]
	return ok
}

// Add inserts the key and reports whether it was absent before the call.
func (c *Cache) Add(key uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return false
	}
	c.keys[key] = struct{}{}
	return true
}

// Remove evicts a key, used when a flush failed before the key became durable.
func (c *Cache) Remove(key uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
}

// Warm bulk-loads keys from durable storage at startup.
func (c *Cache) Warm(keys []uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.keys[k] = struct{}{}
	}
}

// Clear drops every key. Operators run this together with truncating the
// processed_transactions table when recycling a test environment.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = make(map[uuid.UUID]struct{})
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
