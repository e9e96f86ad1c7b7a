package engine

import (
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get("hyde", "query"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Set("hyde", "query", "仮説", time.Minute)
	got, ok := c.Get("hyde", "query")
	if !ok || got != "仮説" {
		t.Fatalf("Get = %v, %v", got, ok)
	}
}

func TestCacheNamespaceIsolation(t *testing.T) {
	c := NewCache()
	c.Set("ent", "text", []string{"a"}, time.Minute)
	if _, ok := c.Get("rel", "text"); ok {
		t.Fatal("value leaked across namespaces")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("hyde", "q", "v", 30*time.Minute)

	now = now.Add(29 * time.Minute)
	if _, ok := c.Get("hyde", "q"); !ok {
		t.Fatal("entry expired early")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("hyde", "q"); ok {
		t.Fatal("entry served past its TTL")
	}
	// Expired entries are evicted on read.
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(c.entries))
	}
}

func TestCacheKeyStability(t *testing.T) {
	k1 := cacheKey("hyde", "同じテキスト")
	k2 := cacheKey("hyde", "同じテキスト")
	if k1 != k2 {
		t.Fatalf("keys differ: %s vs %s", k1, k2)
	}
	if len(k1) != len("hyde:")+16 {
		t.Fatalf("key = %q, want 16 hex chars after prefix", k1)
	}
}
