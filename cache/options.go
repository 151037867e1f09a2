package cache

import "log/slog"

// DefaultShards is the shard count used when Options.Shards is zero.
const DefaultShards = 16

// Options configures a cache. Zero values are safe; defaults are applied in New():
//   - Shards <= 0  => DefaultShards (otherwise rounded up to a power of two, max 256)
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => logs are discarded
type Options struct {
	// Capacity is the total charge budget. Each shard gets ceil(Capacity/Shards).
	// Zero disables caching: Insert returns handles that are never indexed.
	Capacity int

	// Shards is the number of independently locked shards. Keys are routed
	// by the top log2(Shards) bits of their 32-bit hash.
	Shards int

	// Metrics receives Hit/Miss/Evict/Usage signals under shard locks.
	Metrics Metrics

	// Logger receives debug records for construction, Prune and Close, and
	// warnings for failed loads in GetOrLoad.
	Logger *slog.Logger
}
