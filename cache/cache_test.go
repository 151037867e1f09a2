package cache

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/lsmcache/internal/util"
)

const testCacheSize = 1000

// harness records deleter calls, like an engine returning blocks to a pool.
type harness struct {
	t *testing.T
	c Cache[int]

	mu            sync.Mutex
	deletedKeys   []int
	deletedValues []int
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	return &harness{t: t, c: NewLRU[int](capacity)}
}

func encodeKey(k int) []byte { return util.Uint32Key(uint32(k)) }

func decodeKey(b []byte) int { return int(binary.LittleEndian.Uint32(b)) }

func (h *harness) deleter(key []byte, v int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletedKeys = append(h.deletedKeys, decodeKey(key))
	h.deletedValues = append(h.deletedValues, v)
}

func (h *harness) deleted() ([]int, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.deletedKeys...), append([]int(nil), h.deletedValues...)
}

func (h *harness) lookup(key int) int {
	hd := h.c.Lookup(encodeKey(key))
	if hd == nil {
		return -1
	}
	defer h.c.Release(hd)
	return h.c.Value(hd)
}

func (h *harness) insert(key, value, charge int) {
	h.c.Release(h.insertAndReturnHandle(key, value, charge))
}

func (h *harness) insertAndReturnHandle(key, value, charge int) *Handle[int] {
	return h.c.Insert(encodeKey(key), value, charge, h.deleter)
}

func (h *harness) erase(key int) { h.c.Erase(encodeKey(key)) }

func TestCache_HitAndMiss(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	require.Equal(t, -1, h.lookup(100))

	h.insert(100, 101, 1)
	require.Equal(t, 101, h.lookup(100))
	require.Equal(t, -1, h.lookup(200))
	require.Equal(t, -1, h.lookup(300))

	h.insert(200, 201, 1)
	require.Equal(t, 101, h.lookup(100))
	require.Equal(t, 201, h.lookup(200))
	require.Equal(t, -1, h.lookup(300))

	h.insert(100, 102, 1)
	require.Equal(t, 102, h.lookup(100))
	require.Equal(t, 201, h.lookup(200))
	require.Equal(t, -1, h.lookup(300))

	keys, values := h.deleted()
	require.Equal(t, []int{100}, keys)
	require.Equal(t, []int{101}, values)
}

// capacity=1000; insert, replace, erase, then keep one handle past Erase.
func TestCache_Simple(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	require.Equal(t, -1, h.lookup(100))
	h.insert(100, 101, 1)
	require.Equal(t, 101, h.lookup(100))
	h.insert(100, 201, 1)
	require.Equal(t, 201, h.lookup(100))
	h.erase(100)
	require.Equal(t, -1, h.lookup(100))

	h.insert(200, 201, 1)
	require.Equal(t, 201, h.lookup(200))
	h.erase(200)
	require.Equal(t, -1, h.lookup(200))

	hd := h.insertAndReturnHandle(100, 101, 1)
	require.Equal(t, 101, h.lookup(100))
	h.erase(100)
	require.Equal(t, -1, h.lookup(100), "erased key must miss while a handle is alive")

	_, values := h.deleted()
	require.Equal(t, []int{101, 201, 201}, values)

	h.c.Release(hd)
	keys, values := h.deleted()
	require.Len(t, keys, 4)
	assert.Equal(t, 100, keys[3])
	assert.Equal(t, 101, values[3])
}

func TestCache_Erase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	h.erase(200)
	keys, _ := h.deleted()
	require.Empty(t, keys)

	h.insert(100, 101, 1)
	h.insert(200, 201, 1)
	h.erase(100)
	require.Equal(t, -1, h.lookup(100))
	require.Equal(t, 201, h.lookup(200))
	keys, values := h.deleted()
	require.Equal(t, []int{100}, keys)
	require.Equal(t, []int{101}, values)

	h.erase(100)
	require.Equal(t, -1, h.lookup(100))
	require.Equal(t, 201, h.lookup(200))
	keys, _ = h.deleted()
	require.Len(t, keys, 1)
}

func TestCache_EntriesArePinned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	h.insert(100, 101, 1)
	h1 := h.c.Lookup(encodeKey(100))
	require.NotNil(t, h1)
	require.Equal(t, 101, h.c.Value(h1))

	h.insert(100, 102, 1)
	h2 := h.c.Lookup(encodeKey(100))
	require.NotNil(t, h2)
	require.Equal(t, 102, h.c.Value(h2))
	keys, _ := h.deleted()
	require.Empty(t, keys, "displaced value must survive while held")

	h.c.Release(h1)
	keys, values := h.deleted()
	require.Equal(t, []int{100}, keys)
	require.Equal(t, []int{101}, values)

	h.erase(100)
	require.Equal(t, -1, h.lookup(100))
	keys, _ = h.deleted()
	require.Len(t, keys, 1)

	h.c.Release(h2)
	keys, values = h.deleted()
	require.Equal(t, []int{100, 100}, keys)
	require.Equal(t, []int{101, 102}, values)
}

func TestCache_EvictionPolicy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	h.insert(100, 101, 1)
	h.insert(200, 201, 1)
	h.insert(300, 301, 1)
	pinned := h.c.Lookup(encodeKey(300))
	require.NotNil(t, pinned)

	// Frequently used entry must be kept around, as must things that are
	// still in use. Twice the capacity so every shard overflows.
	for i := 0; i < 2*testCacheSize; i++ {
		h.insert(1000+i, 2000+i, 1)
		require.Equal(t, 2000+i, h.lookup(1000+i))
		require.Equal(t, 101, h.lookup(100))
	}
	require.Equal(t, 101, h.lookup(100))
	require.Equal(t, -1, h.lookup(200))
	require.Equal(t, 301, h.lookup(300))
	h.c.Release(pinned)
}

func TestCache_UseExceedsCacheSize(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	// Overfill the cache, keeping handles on all inserted entries.
	handles := make([]*Handle[int], testCacheSize+100)
	for i := range handles {
		handles[i] = h.insertAndReturnHandle(1000+i, 2000+i, 1)
	}
	for i := range handles {
		require.Equal(t, 2000+i, h.lookup(1000+i))
	}
	require.Equal(t, testCacheSize+100, h.c.TotalCharge())
	for _, hd := range handles {
		h.c.Release(hd)
	}
	keys, _ := h.deleted()
	assert.Empty(t, keys, "nothing is evicted until another insert")
}

func TestCache_HeavyEntries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	// Add light and heavy entries and count the combined charge still in the
	// cache, which must be about the total capacity.
	const light, heavy = 1, 10
	added, index := 0, 0
	for added < 2*testCacheSize {
		weight := heavy
		if index&1 == 1 {
			weight = light
		}
		h.insert(index, 1000+index, weight)
		added += weight
		index++
	}

	cachedWeight := 0
	for i := 0; i < index; i++ {
		weight := heavy
		if i&1 == 1 {
			weight = light
		}
		if r := h.lookup(i); r >= 0 {
			cachedWeight += weight
			require.Equal(t, 1000+i, r)
		}
	}
	require.LessOrEqual(t, cachedWeight, testCacheSize+testCacheSize/10)
}

func TestCache_NewID(t *testing.T) {
	t.Parallel()
	c := NewLRU[int](testCacheSize)

	a := c.NewID()
	b := c.NewID()
	require.NotEqual(t, a, b)
	require.Greater(t, b, a)

	// Ids are scoped to the instance.
	other := NewLRU[int](testCacheSize)
	assert.Equal(t, a, other.NewID())
}

func TestCache_Prune(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testCacheSize)

	h.insert(1, 100, 1)
	h.insert(2, 100, 1)

	hd := h.c.Lookup(encodeKey(1))
	require.NotNil(t, hd)
	h.c.Prune()
	h.c.Release(hd)

	require.Equal(t, 100, h.lookup(1))
	require.Equal(t, -1, h.lookup(2))
	keys, _ := h.deleted()
	require.Equal(t, []int{2}, keys)
}

func TestCache_ZeroSizeCache(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	hd := h.insertAndReturnHandle(1, 100, 1)
	require.NotNil(t, hd)
	require.Equal(t, 100, h.c.Value(hd))
	require.Equal(t, -1, h.lookup(1))
	require.Zero(t, h.c.TotalCharge())
	require.Zero(t, h.c.Len())

	h.c.Release(hd)
	keys, values := h.deleted()
	require.Equal(t, []int{1}, keys)
	require.Equal(t, []int{100}, values)
}

func TestCache_EvictsOldestUnreferencedFirst(t *testing.T) {
	t.Parallel()
	h := &harness{t: t, c: New[int](Options{Capacity: 4, Shards: 1})}

	for k := 1; k <= 4; k++ {
		h.insert(k, k*10, 1)
	}
	h.insert(5, 50, 1)

	keys, _ := h.deleted()
	require.Equal(t, []int{1}, keys)
	require.Equal(t, -1, h.lookup(1))
	for k := 2; k <= 5; k++ {
		require.Equal(t, k*10, h.lookup(k))
	}
}

// Lookup+Release moves an entry to the young end of the LRU list; a lookup of
// an already held entry does not.
func TestCache_ReleaseRefreshesRecency(t *testing.T) {
	t.Parallel()
	h := &harness{t: t, c: New[int](Options{Capacity: 3, Shards: 1})}

	h.insert(1, 10, 1)
	h.insert(2, 20, 1)
	h.insert(3, 30, 1)
	require.Equal(t, 10, h.lookup(1)) // 1 is now newest

	h.insert(4, 40, 1)
	keys, _ := h.deleted()
	require.Equal(t, []int{2}, keys)

	// Two handles on 3: the second lookup does not move it; the final release does.
	a := h.c.Lookup(encodeKey(3))
	b := h.c.Lookup(encodeKey(3))
	h.c.Release(a)
	h.insert(5, 50, 1) // evicts oldest unreferenced: 1
	keys, _ = h.deleted()
	require.Equal(t, []int{2, 1}, keys)
	h.c.Release(b)

	h.insert(6, 60, 1) // oldest unreferenced now 4
	keys, _ = h.deleted()
	require.Equal(t, []int{2, 1, 4}, keys)
	require.Equal(t, 30, h.lookup(3))
}

func TestCache_DeleterRunsOnce(t *testing.T) {
	t.Parallel()
	calls := map[int]int{}
	var mu sync.Mutex
	del := func(_ []byte, v int) {
		mu.Lock()
		calls[v]++
		mu.Unlock()
	}

	c := New[int](Options{Capacity: 8, Shards: 1})
	for i := 0; i < 64; i++ {
		hd := c.Insert(encodeKey(i%10), i, 1, del)
		if i%3 == 0 {
			c.Erase(encodeKey(i % 10))
		}
		if i%5 == 0 {
			c.Prune()
		}
		c.Release(hd)
	}
	require.NoError(t, c.Close())

	require.Len(t, calls, 64)
	for v, n := range calls {
		assert.Equal(t, 1, n, "deleter for value %d", v)
	}
	assert.Zero(t, c.TotalCharge())
}

func TestCache_KeyIsCopied(t *testing.T) {
	t.Parallel()
	c := NewLRU[string](100)

	key := []byte("block-1")
	c.Release(c.Insert(key, "v", 1, nil))
	key[0] = 'X'

	hd := c.Lookup([]byte("block-1"))
	require.NotNil(t, hd)
	assert.Equal(t, "block-1", string(hd.Key()))
	assert.Equal(t, "v", hd.Value())
	assert.Equal(t, 1, hd.Charge())
	c.Release(hd)
	assert.Nil(t, c.Lookup(key))
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()
	c := New[int](Options{Capacity: 2, Shards: 1})

	c.Release(c.Insert(encodeKey(1), 1, 1, nil))
	held := c.Insert(encodeKey(2), 2, 1, nil)
	c.Release(c.Insert(encodeKey(3), 3, 1, nil)) // evicts 1
	require.Nil(t, c.Lookup(encodeKey(1)))

	st := c.Stats()
	assert.Equal(t, 1, st.Shards)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 1, st.Pinned)
	assert.Equal(t, 2, st.Usage)
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, uint64(0), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, 2, c.Len())

	c.Release(held)
	assert.Equal(t, 0, c.Stats().Pinned)
}

func TestCache_CapacitySplitAcrossShards(t *testing.T) {
	t.Parallel()
	c := New[int](Options{Capacity: 1000})

	ss := c.ShardStats()
	require.Len(t, ss, DefaultShards)
	for i, s := range ss {
		assert.Equal(t, i, s.Shard)
		assert.Equal(t, 63, s.Capacity) // ceil(1000/16)
	}

	c = New[int](Options{Capacity: 10, Shards: 3})
	require.Len(t, c.ShardStats(), 4)

	// A huge budget must not wrap around and switch caching off.
	c = NewLRU[int](math.MaxInt)
	for _, s := range c.ShardStats() {
		assert.Equal(t, math.MaxInt/DefaultShards+1, s.Capacity)
	}
	c.Release(c.Insert([]byte("k"), 1, 1, nil))
	hd := c.Lookup([]byte("k"))
	require.NotNil(t, hd)
	assert.Equal(t, 1, c.Value(hd))
	c.Release(hd)
}

func TestCache_NegativeInputsPanic(t *testing.T) {
	t.Parallel()
	require.Panics(t, func() { New[int](Options{Capacity: -1}) })
	c := NewLRU[int](10)
	require.Panics(t, func() { c.Insert([]byte("k"), 1, -1, nil) })
}

func TestCache_DoubleReleasePanics(t *testing.T) {
	t.Parallel()
	c := New[int](Options{Capacity: 0})
	hd := c.Insert([]byte("k"), 1, 1, nil)
	c.Release(hd)
	require.Panics(t, func() { c.Release(hd) })
}

func TestCache_EmptyKey(t *testing.T) {
	t.Parallel()
	c := NewLRU[int](10)
	c.Release(c.Insert(nil, 7, 1, nil))
	hd := c.Lookup([]byte{})
	require.NotNil(t, hd)
	assert.Equal(t, 7, c.Value(hd))
	c.Release(hd)
}
