package livedocs

import (
	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/hupe1980/segmut/internal/bitmap"
)

// Cache holds decoded live-docs snapshots keyed by file name. File names are
// never reused for different content, so entries need no invalidation. A nil
// *Cache caches nothing.
type Cache struct {
	c *ristretto.Cache[string, *bitmap.Snapshot]
}

// NewCache returns a cache bounded to roughly maxBytes of bitmap memory.
func NewCache(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, errors.Newf("livedocs: cache size must be positive, got %d", maxBytes)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *bitmap.Snapshot]{
		NumCounters: 10 * max(maxBytes/1024, 100),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "livedocs: create cache")
	}
	return &Cache{c: c}, nil
}

// cost approximates the in-memory size of s as one bit per document.
func cost(s *bitmap.Snapshot) int64 {
	return int64(s.Len()/8) + 64
}

// Put stores s under name. Admission is asynchronous and may be refused.
func (c *Cache) Put(name string, s *bitmap.Snapshot) {
	if c == nil || s == nil {
		return
	}
	c.c.Set(name, s, cost(s))
}

// Get returns the snapshot stored under name.
func (c *Cache) Get(name string) (*bitmap.Snapshot, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(name)
}

// Remove drops name.
func (c *Cache) Remove(name string) {
	if c == nil {
		return
	}
	c.c.Del(name)
}

// Wait blocks until pending Puts are applied.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

// Close releases the cache.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}
