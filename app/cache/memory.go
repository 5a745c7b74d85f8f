package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	mu   sync.Mutex // orders writers so SetIfAbsent is atomic
	lru  *expirable.LRU[string, []byte]
	size int
	ttl  time.Duration
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru:  expirable.NewLRU[string, []byte](size, nil, ttl),
		size: size,
		ttl:  ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(value), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, slices.Clone(value))
	return nil
}

func (c *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Peek ignores expired entries that were not purged yet
	if _, ok := c.lru.Peek(key); ok {
		return false, nil
	}
	c.lru.Add(key, slices.Clone(value))
	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) Health(_ context.Context) map[string]any {
	return map[string]any{
		"status":    "healthy",
		"type":      BackendMemory,
		"key_count": c.lru.Len(),
		"capacity":  c.size,
		"ttl":       c.ttl.String(),
	}
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
