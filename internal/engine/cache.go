package engine

import "sync"

// embeddingCache is a bounded text → vector cache. Eviction is
// oldest-inserted-first (plain FIFO, not LRU): at transaction-description
// cardinality the simpler policy wins and keeps inserts O(1).
type embeddingCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string][]float32
	order    []string // insertion order, head is the eviction candidate
}

func newEmbeddingCache(capacity int) *embeddingCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &embeddingCache{
		capacity: capacity,
		entries:  make(map[string][]float32, capacity),
	}
}

// get returns the cached vector for key, if present.
func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[key]
	return vec, ok
}

// put inserts a vector, evicting the oldest entry when at capacity.
// Re-inserting an existing key refreshes the value without growing the
// order queue.
func (c *embeddingCache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = vec
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = vec
	c.order = append(c.order, key)
}

// len returns the number of cached entries.
func (c *embeddingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
