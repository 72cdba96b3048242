package ir

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chazu/stagehand/pkg/blocks"
)

// DefaultCacheSize bounds the number of cached scripts per Cache.
const DefaultCacheSize = 256

// Cache memoizes generated IR per top block. Entries key on the graph
// generation, so editing the graph naturally invalidates them; stale
// generations age out of the LRU.
type Cache struct {
	scripts *lru.Cache[string, *Script]
}

// NewCache creates a cache holding up to size scripts. A size of 0
// uses DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	scripts, err := lru.New[string, *Script](size)
	if err != nil {
		return nil, fmt.Errorf("creating IR cache: %w", err)
	}
	return &Cache{scripts: scripts}, nil
}

func cacheKey(owner string, g *blocks.Graph, top blocks.ID) string {
	return fmt.Sprintf("%s/%s@%d", owner, top, g.Generation())
}

// Generate returns cached IR for the script rooted at top, generating
// it on a miss. owner disambiguates graphs from different targets.
func (c *Cache) Generate(owner string, g *blocks.Graph, top blocks.ID) (*Script, error) {
	key := cacheKey(owner, g, top)
	if s, ok := c.scripts.Get(key); ok {
		return s, nil
	}
	s, err := Generate(g, top)
	if err != nil {
		return nil, err
	}
	c.scripts.Add(key, s)
	return s, nil
}

// Len returns the number of cached scripts.
func (c *Cache) Len() int {
	return c.scripts.Len()
}

// Purge drops all cached scripts.
func (c *Cache) Purge() {
	c.scripts.Purge()
}
