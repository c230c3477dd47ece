// Package lrucache instantiates the HBA-keyed caches the BIT query
// path uses to avoid re-reading and re-decrypting already-visited
// indirect and leaf nodes.
package lrucache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	sderrors "github.com/nilotpal-labs/sworndisk/pkg/errors"
)

// Cache is a fixed-capacity, HBA-keyed LRU cache over decoded BIT
// nodes of type V. The wrapped hashicorp cache does its own locking,
// so several readers holding only the engine's shared lock may touch
// it at the same time.
type Cache[V any] struct {
	inner *lru.Cache[uint64, V]
}

// New allocates a Cache with the given capacity.
func New[V any](size int) (*Cache[V], error) {
	if size <= 0 {
		return nil, sderrors.NewValidationError(
			nil, sderrors.ErrorCodeInvalidArgument, "lru cache size must be positive",
		).WithField("size").WithRule("positive").WithProvided(size)
	}

	inner, err := lru.New[uint64, V](size)
	if err != nil {
		return nil, sderrors.NewStorageError(err, sderrors.ErrorCodeInternal, "failed to construct lru cache")
	}

	return &Cache[V]{inner: inner}, nil
}

// Get returns the cached value for hba, promoting it to
// most-recently-used.
func (c *Cache[V]) Get(hba uint64) (V, bool) {
	return c.inner.Get(hba)
}

// Add inserts or updates the value for hba, evicting the
// least-recently-used entry if the cache is at capacity and hba is a
// new key.
func (c *Cache[V]) Add(hba uint64, value V) {
	c.inner.Add(hba, value)
}

// Remove evicts hba from the cache, if present.
func (c *Cache[V]) Remove(hba uint64) {
	c.inner.Remove(hba)
}

// Len returns the number of entries currently cached.
func (c *Cache[V]) Len() int {
	return c.inner.Len()
}

// Purge clears every entry from the cache.
func (c *Cache[V]) Purge() {
	c.inner.Purge()
}
