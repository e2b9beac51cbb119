package risk

import (
	"context"
	"strconv"
	"sync"
)

// CacheKey identifies an assessment by entity and analysis window.
type CacheKey struct {
	EntityID string
	Days     int
}

func (k CacheKey) String() string {
	return k.EntityID + ":" + strconv.Itoa(k.Days)
}

// Cache stores finished assessments. Entries are never invalidated: a
// reader may see an assessment computed against an older graph version.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (*Assessment, bool, error)
	Put(ctx context.Context, key CacheKey, a *Assessment) error
}

// MemoryCache is an unbounded in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]*Assessment
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey]*Assessment)}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) (*Assessment, bool, error) {
	c.mu.RLock()
	a, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return a.clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key CacheKey, a *Assessment) error {
	c.mu.Lock()
	c.entries[key] = a.clone()
	c.mu.Unlock()
	return nil
}

// Len reports the number of cached assessments.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
