package cache

import (
	"context"
	"sync"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
)

// entry is a cached snapshot plus its insertion time.
type entry struct {
	snap     *models.PriceSnapshot
	storedAt time.Time
}

// MemoryPriceCache is an in-process PriceCache. Entries go stale after TTL
// and are never explicitly invalidated. MaxEntries > 0 bounds the map.
type MemoryPriceCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type MemoryConfig struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

var _ storage.PriceCache = (*MemoryPriceCache)(nil)

func NewMemoryPriceCache(cfg MemoryConfig) *MemoryPriceCache {
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultPriceCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryPriceCache{
		entries:    make(map[string]entry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
}

// isFresh holds while the elapsed time since insertion is strictly below TTL.
func (c *MemoryPriceCache) isFresh(e entry) bool {
	return c.now().Sub(e.storedAt) < c.ttl
}

func (c *MemoryPriceCache) Get(_ context.Context, ticker string) (*models.PriceSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[ticker]
	c.mu.RUnlock()

	if !ok || !c.isFresh(e) {
		return nil, false
	}
	return e.snap, true
}

func (c *MemoryPriceCache) Put(_ context.Context, ticker string, snap *models.PriceSnapshot) {
	if snap == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[ticker]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[ticker] = entry{snap: snap, storedAt: c.now()}
}

// Len returns the number of stored entries, stale ones included.
func (c *MemoryPriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops every stale entry, then the oldest one if still at capacity.
func (c *MemoryPriceCache) evictLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range c.entries {
		if !c.isFresh(e) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
