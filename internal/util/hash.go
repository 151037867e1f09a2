// Package util contains internal helpers (hashing, sharding, padding).
//
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hash32 hashes b to 32 bits using xxHash64 folded in half.
// The same value drives shard selection (top bits) and bucket selection
// inside a shard (low bits), so both halves of the 64-bit digest are mixed in.
// seed 0 is the fast path used by the cache.
func Hash32(b []byte, seed uint32) uint32 {
	var h uint64
	if seed == 0 {
		h = xxhash.Sum64(b)
	} else {
		d := xxhash.NewWithSeed(uint64(seed))
		_, _ = d.Write(b)
		h = d.Sum64()
	}
	return uint32(h>>32) ^ uint32(h)
}

// Uint32Key encodes v as a 4-byte little-endian key. Handy for tests and
// tools that cache by numeric id (file numbers, block offsets).
func Uint32Key(v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return buf[:]
}
