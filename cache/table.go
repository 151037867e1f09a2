package cache

import (
	"bytes"
	"fmt"

	"github.com/IvanBrykalov/lsmcache/internal/util"
)

// minBuckets is the initial bucket count of a handleTable.
const minBuckets = 4

// handleTable is an open-chaining hash index from (hash, key) to *Handle.
// Chains are threaded through Handle.nextHash, so the table never allocates
// or frees entries and an entry never moves when the table grows.
//
// The bucket array length is a power of two; the table grows when the element
// count exceeds it, keeping chains at <= 1 element on average.
type handleTable[V any] struct {
	length uint32
	elems  uint32
	list   []*Handle[V]
}

func newHandleTable[V any]() handleTable[V] {
	t := handleTable[V]{}
	t.resize()
	return t
}

func (t *handleTable[V]) lookup(key []byte, hash uint32) *Handle[V] {
	return *t.findPointer(key, hash)
}

// insert indexes h, replacing and returning an entry with the same key
// (nil if there was none). The displaced entry is not released.
func (t *handleTable[V]) insert(h *Handle[V]) *Handle[V] {
	ptr := t.findPointer(h.key, h.hash)
	old := *ptr
	if old != nil {
		h.nextHash = old.nextHash
	} else {
		h.nextHash = nil
	}
	*ptr = h
	if old == nil {
		t.elems++
		if t.elems > t.length {
			t.resize()
		}
	}
	return old
}

func (t *handleTable[V]) remove(key []byte, hash uint32) *Handle[V] {
	ptr := t.findPointer(key, hash)
	result := *ptr
	if result != nil {
		*ptr = result.nextHash
		result.nextHash = nil
		t.elems--
	}
	return result
}

func (t *handleTable[V]) len() int { return int(t.elems) }

// findPointer returns the slot that points to the entry matching key/hash,
// or the trailing nil slot of the bucket chain if there is none.
func (t *handleTable[V]) findPointer(key []byte, hash uint32) **Handle[V] {
	ptr := &t.list[hash&(t.length-1)]
	for *ptr != nil && ((*ptr).hash != hash || !bytes.Equal(key, (*ptr).key)) {
		ptr = &(*ptr).nextHash
	}
	return ptr
}

// resize rehashes every chain into a bucket array sized for elems.
// Order within a chain is not preserved.
func (t *handleTable[V]) resize() {
	newLength := util.GrowPow2(minBuckets, t.elems)
	newList := make([]*Handle[V], newLength)
	var count uint32
	for i := uint32(0); i < t.length; i++ {
		h := t.list[i]
		for h != nil {
			next := h.nextHash
			ptr := &newList[h.hash&(newLength-1)]
			h.nextHash = *ptr
			*ptr = h
			h = next
			count++
		}
	}
	if count != t.elems {
		panic(fmt.Sprintf("cache: handle table corrupted: rehashed %d of %d entries", count, t.elems))
	}
	t.list = newList
	t.length = newLength
}
