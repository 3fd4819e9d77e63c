package query

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// parseCache is a bounded cache from expression hashes to parsed queries.
// Parsed trees are immutable, so one tree may be shared by many requests.
//
// Eviction strategy: when the cache reaches its capacity limit the entire map is
// replaced. This is simpler than a true LRU and sufficient for a small number of
// distinct expressions repeated many times.
type parseCache struct {
	mu    sync.RWMutex
	items map[uint64]cacheEntry
	max   int
}

type cacheEntry struct {
	expr  string
	query Query
}

var globalParseCache = newParseCache(256)

func newParseCache(max int) *parseCache {
	return &parseCache{
		items: make(map[uint64]cacheEntry, max),
		max:   max,
	}
}

func (c *parseCache) get(expr string) (Query, bool) {
	key := xxhash.Sum64String(expr)
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	// guard against hash collisions
	if !ok || entry.expr != expr {
		return nil, false
	}
	return entry.query, true
}

func (c *parseCache) put(expr string, q Query) {
	key := xxhash.Sum64String(expr)
	c.mu.Lock()
	if len(c.items) >= c.max {
		c.items = make(map[uint64]cacheEntry, c.max)
	}
	c.items[key] = cacheEntry{expr: expr, query: q}
	c.mu.Unlock()
}

func (c *parseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CachedParse is Parse with memoisation. Errors are not cached.
func CachedParse(expr string) (Query, error) {
	if q, ok := globalParseCache.get(expr); ok {
		return q, nil
	}
	q, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	globalParseCache.put(expr, q)
	return q, nil
}
