package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Cache TTLs per namespace. Relation triples are the most expensive to
// extract and the most stable, so they live the longest.
const (
	hydeTTL     = 30 * time.Minute
	entityTTL   = time.Hour
	relationTTL = 24 * time.Hour
)

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a small in-process TTL cache keyed on a hash of the input text.
// It stands in for Redis; the values are cheap to recompute and a restart
// simply starts cold.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{entries: map[string]cacheEntry{}, now: time.Now}
}

func cacheKey(namespace, text string) string {
	sum := sha256.Sum256([]byte(text))
	return namespace + ":" + hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached value for (namespace, text). Expired entries are
// evicted on read.
func (c *Cache) Get(namespace, text string) (interface{}, bool) {
	key := cacheKey(namespace, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) Set(namespace, text string, value interface{}, ttl time.Duration) {
	key := cacheKey(namespace, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
}
