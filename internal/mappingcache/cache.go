package mappingcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache memoizes confirmed dependency satisfactions. Only positive results are
// ever stored; a miss is not proof that the dependency is absent.
type Cache interface {
	Set(ctx context.Context, key string) error
	TryGet(ctx context.Context, key string) (bool, error)
}

// Key builds the cache key for a dependency: UPPER(type) + ":" + id.
func Key(dependencyType, aggregateID string) string {
	return strings.ToUpper(strings.TrimSpace(dependencyType)) + ":" + strings.TrimSpace(aggregateID)
}

// sweepEvery is the number of writes between full expiry sweeps.
const sweepEvery = 1024

// MemoryCache is a process-local Cache with per-entry TTL. Expired entries are
// dropped when read and by a sweep every sweepEvery writes.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	writes  int
}

// NewMemoryCache builds a cache whose entries live for ttl. A non-positive
// ttl keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: map[string]time.Time{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *MemoryCache) Set(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.entries[key] = expires
	c.writes++
	if c.ttl > 0 && c.writes%sweepEvery == 0 {
		c.sweepLocked()
	}
	return nil
}

func (c *MemoryCache) sweepLocked() {
	now := c.now()
	for key, expires := range c.entries {
		if !expires.IsZero() && !now.Before(expires) {
			delete(c.entries, key)
		}
	}
}

func (c *MemoryCache) TryGet(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if !expires.IsZero() && !c.now().Before(expires) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Len reports stored entries, including ones that expired but were not read.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
