package cache

import "context"

// Deleter is invoked exactly once per entry, when its last reference is
// dropped. It runs under the owning shard's lock: it must not call back into
// the cache and should not block.
type Deleter[V any] func(key []byte, value V)

// LoadFunc produces the value and charge for key on a GetOrLoad miss.
type LoadFunc[V any] func(ctx context.Context, key []byte) (value V, charge int, err error)

// Cache is a sharded, reference-counted LRU cache keyed by byte strings.
// All methods are safe for concurrent use by multiple goroutines.
//
// Every non-nil *Handle returned by Insert, Lookup or GetOrLoad must be passed
// to Release exactly once. Using a handle after its Release is a caller bug.
type Cache[V any] interface {
	// Insert maps key to value with the given charge against capacity and
	// returns a handle to the new entry. An existing entry for key is
	// displaced; it is freed once its outstanding handles are released.
	Insert(key []byte, value V, charge int, deleter Deleter[V]) *Handle[V]

	// Lookup returns a handle for key, or nil if the key is not cached.
	Lookup(key []byte) *Handle[V]

	// Release gives back a handle obtained from this cache.
	Release(h *Handle[V])

	// Erase removes key if present. The entry is kept alive until all
	// existing handles to it are released.
	Erase(key []byte)

	// Value returns the value held by h.
	Value(h *Handle[V]) V

	// NewID returns a new numeric id, unique for this cache instance.
	// Clients sharing a cache may prefix keys with it to partition the key space.
	NewID() uint64

	// Prune drops all entries that are not held by callers.
	Prune()

	// TotalCharge returns the combined charge of all cached entries.
	TotalCharge() int

	// GetOrLoad returns a handle for key, loading and inserting it on a miss.
	// Concurrent loads of the same key are coalesced.
	GetOrLoad(ctx context.Context, key []byte, load LoadFunc[V], deleter Deleter[V]) (*Handle[V], error)

	// Len returns the number of cached entries across all shards.
	Len() int

	// Stats returns counters aggregated over all shards.
	Stats() Stats

	// ShardStats returns one snapshot per shard, indexed by shard number.
	ShardStats() []ShardStats

	// Close releases every cached entry, running deleters. It panics if a
	// cached entry is still held by a caller. After Close, Insert returns
	// uncached handles and Lookup always misses.
	Close() error
}
