package search

import (
	"sync"
	"time"

	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/models"
)

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries   int           `json:"entries"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
}

type cacheEntry struct {
	chunks   []*models.Chunk
	loadedAt time.Time
}

// generation identifies a cache state for one organization. Invalidate and
// Clear advance it so a load that started earlier cannot be stored afterwards.
type generation struct {
	epoch uint64
	org   uint64
}

// CacheOption configures an EmbeddingCache.
type CacheOption func(*EmbeddingCache)

// WithTTL sets how long a full-organization load stays fresh.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *EmbeddingCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity sets the maximum number of cached organizations.
func WithCapacity(n int) CacheOption {
	return func(c *EmbeddingCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *EmbeddingCache) {
		c.now = now
	}
}

// EmbeddingCache holds each organization's full set of embedded chunks.
// Freshness is checked on read; stale entries stay until overwritten or
// evicted. When full, the entry with the oldest load time is evicted, found by
// a linear scan, so capacity is meant to stay small.
type EmbeddingCache struct {
	mu          sync.Mutex
	entries     map[string]cacheEntry
	generations map[string]uint64
	epoch       uint64
	ttl         time.Duration
	capacity    int
	now         func() time.Time

	hits, misses, evictions uint64
}

// NewEmbeddingCache creates a cache with a 5 minute TTL and room for 3 organizations.
func NewEmbeddingCache(opts ...CacheOption) *EmbeddingCache {
	c := &EmbeddingCache{
		entries:     make(map[string]cacheEntry),
		generations: make(map[string]uint64),
		ttl:         config.DefaultCacheTTL,
		capacity:    config.DefaultMaxCachedOrgs,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the organization's chunks if an entry exists and is younger than the TTL.
func (c *EmbeddingCache) Get(orgID string) ([]*models.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[orgID]
	if !ok || c.now().Sub(e.loadedAt) >= c.ttl {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.chunks, true
}

// Put stores chunks for orgID with a fresh load time. It returns the evicted
// organization, or "" when nothing was evicted.
func (c *EmbeddingCache) Put(orgID string, chunks []*models.Chunk) (evicted string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.put(orgID, chunks)
}

// putIfCurrent stores chunks only if no invalidation happened since gen was read.
func (c *EmbeddingCache) putIfCurrent(orgID string, gen generation, chunks []*models.Chunk) (evicted string, stored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generationLocked(orgID) != gen {
		return "", false
	}
	return c.put(orgID, chunks), true
}

func (c *EmbeddingCache) put(orgID string, chunks []*models.Chunk) string {
	var evicted string
	if _, present := c.entries[orgID]; !present && len(c.entries) >= c.capacity {
		var oldest time.Time
		for id, e := range c.entries {
			if evicted == "" || e.loadedAt.Before(oldest) {
				evicted, oldest = id, e.loadedAt
			}
		}
		delete(c.entries, evicted)
		c.evictions++
	}
	c.entries[orgID] = cacheEntry{chunks: chunks, loadedAt: c.now()}
	return evicted
}

// Invalidate removes any entry for orgID regardless of age.
func (c *EmbeddingCache) Invalidate(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orgID)
	c.generations[orgID]++
}

// Clear removes every entry.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.epoch++
}

// Len returns the number of entries, fresh or stale.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   len(c.entries),
		Capacity:  c.capacity,
		TTL:       c.ttl,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *EmbeddingCache) generation(orgID string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generationLocked(orgID)
}

func (c *EmbeddingCache) generationLocked(orgID string) generation {
	return generation{epoch: c.epoch, org: c.generations[orgID]}
}
