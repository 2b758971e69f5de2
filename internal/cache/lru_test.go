package cache

import (
	"testing"
	"time"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Expected a hit for a")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a retained")
	}
	if c.Size() != 2 {
		t.Errorf("Expected 2 entries, got %d", c.Size())
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache[int](4, -time.Millisecond)
	c.Set("gone", 42)

	if _, ok := c.Get("gone"); ok {
		t.Error("Expected an expired entry to miss")
	}
	if c.Size() != 0 {
		t.Errorf("Expected the miss to drop the entry, got %d", c.Size())
	}
}

func TestLRUCacheOverwriteAndDelete(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)
	c.Set("k", 1)
	c.Set("k", 2)

	if v, _ := c.Get("k"); v != 2 {
		t.Errorf("Expected the last write, got %d", v)
	}
	if c.Size() != 1 {
		t.Errorf("Overwrite must not grow the cache, got %d", c.Size())
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("Expected k deleted")
	}
}

func TestCleanExpired(t *testing.T) {
	fresh := NewLRUCache[int](4, time.Minute)
	stale := NewLRUCache[int](4, -time.Millisecond)
	fresh.Set("keep", 1)
	stale.Set("drop-1", 2)
	stale.Set("drop-2", 3)

	if n := stale.CleanExpired(); n != 2 {
		t.Errorf("Expected 2 swept, got %d", n)
	}
	if n := fresh.CleanExpired(); n != 0 {
		t.Errorf("Expected nothing swept, got %d", n)
	}
	if fresh.Size() != 1 || stale.Size() != 0 {
		t.Errorf("Unexpected sizes after sweep: fresh=%d stale=%d", fresh.Size(), stale.Size())
	}
}
