package cache

// EvictReason explains why an entry left a shard's index.
type EvictReason int

const (
	// EvictCapacity: dropped from the LRU list to get usage back under capacity.
	EvictCapacity EvictReason = iota
	// EvictReplace: displaced by an Insert of the same key.
	EvictReplace
	// EvictErase: removed by an explicit Erase.
	EvictErase
	// EvictPrune: removed by Prune.
	EvictPrune
	// EvictClose: released while closing the cache.
	EvictClose
)

// String returns a stable lowercase name, suitable as a metric label.
func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictReplace:
		return "replace"
	case EvictErase:
		return "erase"
	case EvictPrune:
		return "prune"
	case EvictClose:
		return "close"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// Hooks run under a shard lock; keep them cheap and never call back into the cache.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	// Usage reports a shard's indexed entry count and charge after a change.
	Usage(shard int, entries int, charge int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is the default when no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                {}
func (NoopMetrics) Miss()               {}
func (NoopMetrics) Evict(EvictReason)   {}
func (NoopMetrics) Usage(int, int, int) {}

var _ Metrics = NoopMetrics{}

// ShardStats is a point-in-time snapshot of one shard.
type ShardStats struct {
	Shard     int
	Entries   int    // indexed entries
	Pinned    int    // indexed entries held by callers
	Usage     int    // charge of indexed entries
	Capacity  int    // per-shard capacity
	Hits      uint64 // lookups that found an entry
	Misses    uint64
	Evictions uint64 // removals from the index, any reason
}

// Stats aggregates ShardStats over all shards.
type Stats struct {
	Shards    int
	Entries   int
	Pinned    int
	Usage     int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func (s *Stats) add(sh ShardStats) {
	s.Shards++
	s.Entries += sh.Entries
	s.Pinned += sh.Pinned
	s.Usage += sh.Usage
	s.Capacity += sh.Capacity
	s.Hits += sh.Hits
	s.Misses += sh.Misses
	s.Evictions += sh.Evictions
}
