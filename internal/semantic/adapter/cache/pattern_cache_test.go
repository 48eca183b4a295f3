package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternCacheCompileAndReuse(t *testing.T) {
	c := NewPatternCache(16, nil)

	re := c.Compile("(CHROME|FIREFOX)")
	require.NotNil(t, re)
	assert.True(t, re.MatchString("firefox"), "patterns compile case-insensitive")

	again := c.Compile("(CHROME|FIREFOX)")
	assert.Same(t, re, again, "second compile returns the cached pattern")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
}

func TestPatternCacheNegativeEntry(t *testing.T) {
	c := NewPatternCache(16, nil)

	assert.Nil(t, c.Compile("(unclosed"))
	// The failure is cached: no recompilation, still nil.
	assert.Nil(t, c.Compile("(unclosed"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses, "invalid pattern compiled exactly once")
	assert.Equal(t, 1, stats.Entries)
}

func TestPatternCacheEmptyPattern(t *testing.T) {
	c := NewPatternCache(16, nil)
	assert.Nil(t, c.Compile(""))
	assert.Equal(t, 0, c.Len())
}

func TestPatternCacheBound(t *testing.T) {
	c := NewPatternCache(4, nil)
	patterns := []string{"a", "b", "c", "d", "e", "f"}
	for _, p := range patterns {
		require.NotNil(t, c.Compile(p))
	}
	assert.LessOrEqual(t, c.Len(), 4, "cache never exceeds its bound")

	// Evicted patterns still compile correctly on re-request.
	assert.NotNil(t, c.Compile("a"))
}

func TestPatternCacheConcurrentAccess(t *testing.T) {
	c := NewPatternCache(128, nil)

	var wg sync.WaitGroup
	patterns := []string{"alpha", "beta", "(gam|ma)", "(bad", "delta[0-9]+"}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				for _, p := range patterns {
					re := c.Compile(p)
					if p == "(bad" {
						assert.Nil(t, re)
					} else {
						assert.NotNil(t, re)
					}
				}
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()
	// Each distinct pattern compiled once despite 16 goroutines.
	assert.Equal(t, int64(len(patterns)), stats.Misses)
}

func TestPatternCachePurge(t *testing.T) {
	c := NewPatternCache(16, nil)
	c.Compile("x")
	require.Equal(t, 1, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
