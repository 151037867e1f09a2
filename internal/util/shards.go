package util

// DefaultShardBits is log2 of the default shard count (16 shards).
const DefaultShardBits = 4

// MaxShards caps the shard count accepted by the cache.
const MaxShards = 256

// ShardBits normalizes a requested shard count to log2 of a power of two in
// [1..MaxShards]. n <= 0 selects the default (1<<DefaultShardBits).
func ShardBits(n int) uint {
	if n <= 0 {
		return DefaultShardBits
	}
	if n > MaxShards {
		n = MaxShards
	}
	p := NextPow2(uint64(n))
	bits := uint(0)
	for p > 1 {
		p >>= 1
		bits++
	}
	return bits
}

// ShardIndex maps a 32-bit hash to a shard using its top bits.
// Routing by prefix leaves the low bits free for bucket selection inside the
// shard, so keys of one shard still spread over its buckets.
func ShardIndex(hash uint32, bits uint) int {
	if bits == 0 {
		return 0
	}
	return int(hash >> (32 - bits))
}
