package pagestore

import lru "github.com/hashicorp/golang-lru/v2"

// cache wraps a bounded, synchronous LRU keyed by page id. hashicorp's
// golang-lru is a deterministic, in-process cache (unlike an admission
// policy cache such as ristretto) which matters here: a page written to
// the cache must be visible to the very next read.
type cache struct {
	lru *lru.Cache[ID, *Page]
}

func newCache(size int) *cache {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[ID, *Page](size)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(err)
	}
	return &cache{lru: c}
}

func (c *cache) get(id ID) (*Page, bool) {
	return c.lru.Get(id)
}

func (c *cache) put(p *Page) {
	c.lru.Add(p.ID, p)
}

func (c *cache) remove(id ID) {
	c.lru.Remove(id)
}

func (c *cache) len() int {
	return c.lru.Len()
}
