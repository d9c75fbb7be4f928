package engine

// LinkCache remembers, per link id, the last value emitted by the link's
// source port. It is not synchronised: only the engine loop touches it.
type LinkCache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value any
	ok    bool
}

// NewLinkCache allocates an empty cache.
func NewLinkCache() *LinkCache {
	return &LinkCache{entries: make(map[string]cacheEntry)}
}

// Set stores the value for a link.
func (c *LinkCache) Set(linkID string, v any) {
	c.entries[linkID] = cacheEntry{value: v, ok: true}
}

// Clear forgets the value of a link. The link stays known.
func (c *LinkCache) Clear(linkID string) {
	c.entries[linkID] = cacheEntry{}
}

// Delete drops a removed link.
func (c *LinkCache) Delete(linkID string) {
	delete(c.entries, linkID)
}

// HasValue reports whether the link carries a value.
func (c *LinkCache) HasValue(linkID string) bool {
	return c.entries[linkID].ok
}

// Value returns the cached value, or nil and false when there is none.
func (c *LinkCache) Value(linkID string) (any, bool) {
	e := c.entries[linkID]
	return e.value, e.ok
}

// Len returns the number of links holding a value.
func (c *LinkCache) Len() int {
	n := 0
	for _, e := range c.entries {
		if e.ok {
			n++
		}
	}
	return n
}
