package cache

import (
	"regexp"
	"sync"
	"sync/atomic"

	"artifact-semantics/internal/shared/logger"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPatternCacheSize bounds the process-wide pattern cache.
const DefaultPatternCacheSize = 1000

// PatternCache holds compiled, case-insensitive regular expressions behind a
// bounded LRU. Invalid patterns are cached as nil entries so the engine
// reports them once and never attempts recompilation. All compiled patterns
// are shared by every worker and by the SQLite REGEXP scalar function.
type PatternCache struct {
	lru *lru.Cache[string, *regexp.Regexp]

	// mu serializes the compile-and-insert slow path; reads go through the
	// LRU's own locking without taking it.
	mu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64

	log logger.Logger
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// NewPatternCache creates a bounded pattern cache. Size falls back to the
// default when non-positive.
func NewPatternCache(size int, log logger.Logger) *PatternCache {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	l, _ := lru.New[string, *regexp.Regexp](size)
	if log == nil {
		log = logger.WithComponent("pattern_cache")
	}
	return &PatternCache{lru: l, log: log}
}

// Compile returns the compiled case-insensitive pattern, or nil when the
// pattern is invalid or empty. The fast path reads without taking the
// compile lock; the slow path re-checks under it before compiling.
func (c *PatternCache) Compile(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}

	// Fast path: cached entry, including cached failures.
	if re, ok := c.lru.Get(pattern); ok {
		c.hits.Add(1)
		return re
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: another worker may have compiled it while we waited.
	if re, ok := c.lru.Get(pattern); ok {
		c.hits.Add(1)
		return re
	}

	c.misses.Add(1)
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		// Negative entry: the failure is logged once, here, and every rule
		// referencing the pattern fails its condition on both paths.
		c.log.Errorf("pattern compilation failed, caching negative entry: pattern=%q error=%v", pattern, err)
		c.lru.Add(pattern, nil)
		return nil
	}
	c.lru.Add(pattern, re)
	return re
}

// Len reports the number of cached entries, negatives included.
func (c *PatternCache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached entry.
func (c *PatternCache) Purge() {
	c.lru.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *PatternCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}
