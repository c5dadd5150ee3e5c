// Package cache holds the read-through response cache and the version
// counters used to invalidate it.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a byte-oriented key-value store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process Cache. When full, the entry closest to
// expiry is evicted.
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]memoryItem
	maxItems int
	ttl      time.Duration
	now      func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most maxItems entries. A zero
// ttl passed to Set falls back to defaultTTL.
func NewMemoryCache(maxItems int, defaultTTL time.Duration) *MemoryCache {
	if maxItems <= 0 {
		maxItems = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryCache{
		items:    make(map[string]memoryItem),
		maxItems: maxItems,
		ttl:      defaultTTL,
		now:      time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || !c.now().Before(item.expiresAt) {
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttl
	}
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = memoryItem{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// Sweep drops expired entries and returns how many were removed. Keys
// orphaned by a version bump age out here.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, item := range c.items {
		if oldestKey == "" || item.expiresAt.Before(oldest) {
			oldestKey, oldest = k, item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
