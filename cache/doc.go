// Package cache provides a sharded, reference-counted LRU cache for the
// block and table caches of an LSM-tree storage engine.
//
// Design
//
//   - Handles: Insert and Lookup return a *Handle that pins the entry until it
//     is passed to Release. A pinned entry is never evicted and never freed;
//     usage may temporarily exceed capacity while many entries are held.
//
//   - Deleters: every entry carries a Deleter that runs exactly once, when the
//     last reference goes away (Release, Erase, eviction, Prune or Close,
//     whichever drops it last). Deleters run under a shard lock.
//
//   - Storage: each shard keeps its own open-chaining hash index (no
//     tombstones, doubles on growth, entries never move) and two intrusive
//     circular lists: "lru" for entries only the cache references and
//     "in-use" for entries also held by callers. Entries move between the
//     lists only when their refcount crosses 1<->2, so LRU order is the order
//     in which entries were last released.
//
//   - Concurrency: the cache is split into 16 shards by default, each with one
//     sync.Mutex. Keys are routed by the top bits of a 32-bit xxHash; the low
//     bits pick the bucket inside the shard. NewID uses its own lock.
//
//   - Capacity: each shard gets ceil(Capacity/Shards) charge units. Capacity 0
//     disables caching: Insert still returns a usable handle.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Usage signals.
//     NoopMetrics is the default; metrics/prom exports them to Prometheus.
//
// Basic usage
//
//	c := cache.NewLRU[[]byte](64 << 20)
//	h := c.Insert(key, block, len(block), func(key []byte, b []byte) { pool.Put(b) })
//	c.Release(h)
//
//	if h := c.Lookup(key); h != nil {
//	    use(c.Value(h))
//	    c.Release(h)
//	}
//
// Loading on miss
//
//	h, err := c.GetOrLoad(ctx, key, func(ctx context.Context, key []byte) ([]byte, int, error) {
//	    b, err := readBlock(ctx, key)
//	    return b, len(b), err
//	}, nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Release(h)
//
// Partitioning a shared cache
//
//	id := c.NewID()                        // once per table reader
//	key := binary.AppendUvarint(nil, id)   // prefix every block key with id
//	key = binary.AppendUvarint(key, offset)
//
// A *Handle must be released exactly once; releasing twice or using a handle
// after its release is a programming error and may panic.
package cache
