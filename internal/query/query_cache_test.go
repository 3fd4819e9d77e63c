package query

import (
	"fmt"
	"sync"
	"testing"
)

func TestParseCacheHitReturnsSameTree(t *testing.T) {
	first, err := CachedParse("cat AND dog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := CachedParse("cat AND dog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected cached tree to be returned")
	}
}

func TestParseCacheDoesNotCacheErrors(t *testing.T) {
	cache := newParseCache(4)
	if _, ok := cache.get("cat AND"); ok {
		t.Fatal("empty cache reported a hit")
	}
	if _, err := CachedParse("cat AND"); err == nil {
		t.Fatal("expected syntax error")
	}
	if _, ok := globalParseCache.get("cat AND"); ok {
		t.Error("failed parse must not be cached")
	}
}

func TestParseCacheEviction(t *testing.T) {
	cache := newParseCache(2)
	cache.put("a", text("a"))
	cache.put("b", text("b"))
	if cache.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cache.len())
	}
	cache.put("c", text("c"))
	if cache.len() != 1 {
		t.Errorf("expected cache to be reset to 1 entry, got %d", cache.len())
	}
	if _, ok := cache.get("c"); !ok {
		t.Error("expected latest entry to survive eviction")
	}
}

func TestParseCacheConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			expr := fmt.Sprintf("name:file_%d OR status:validated", i%4)
			if _, err := CachedParse(expr); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
