// Package cache provides in-process implementations and decorators for the
// state cache port. Deployments without Redis run on the memory cache;
// deployments with Redis wrap it in the circuit breaker.
package cache

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = 1 * time.Minute

// MemoryCache is a TTL cache held in process memory.
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]memoryItem
	stopChan chan struct{}
	stopOnce sync.Once
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a memory cache and starts its cleanup loop.
func NewMemoryCache() *MemoryCache {
	cache := &MemoryCache{
		items:    make(map[string]memoryItem),
		stopChan: make(chan struct{}),
	}

	go cache.janitor()

	return cache
}

// Get returns the cached value and whether the key was present and fresh.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || item.expired(time.Now()) {
		return nil, false, nil
	}

	// Copied so callers cannot mutate the cached bytes.
	value := make([]byte, len(item.value))
	copy(value, item.value)

	return value, true, nil
}

// Set stores a value with a TTL. A zero TTL stores without expiration.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	item := memoryItem{value: stored}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

// Close stops the cleanup loop.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	return nil
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep removes entries that expired before now.
func (c *MemoryCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}
