package cache

import (
	"fmt"
	"sync"

	"github.com/IvanBrykalov/lsmcache/internal/util"
)

// shard is one independently locked LRU cache.
//
// Every indexed entry is on exactly one of two circular lists:
//   - lru:   entries only the shard references (refs == 1), oldest at lru.next;
//   - inUse: entries also held by callers (refs >= 2), in no particular order.
//
// An entry moves between the lists only when its refcount crosses 1<->2
// (ref/unref), never on plain access. Only lru entries are evicted.
type shard[V any] struct {
	id       int
	capacity int // set once before first insert

	// ---- guarded by mu ----
	mu     sync.Mutex
	closed bool // set by destroy; later inserts are not cached
	usage  int
	pinned int // members of inUse
	lru    Handle[V]
	inUse  Handle[V]
	table  handleTable[V]

	metrics Metrics

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedCounter
	misses util.PaddedCounter
	evicts util.PaddedCounter
}

func newShard[V any](id, capacity int, m Metrics) *shard[V] {
	s := &shard[V]{
		id:       id,
		capacity: capacity,
		table:    newHandleTable[V](),
		metrics:  m,
	}
	s.lru.initList()
	s.inUse.initList()
	return s
}

// Insert always succeeds. With capacity 0 the entry is returned uncached and
// lives only through the returned handle.
func (s *shard[V]) Insert(key []byte, hash uint32, value V, charge int, deleter Deleter[V]) *Handle[V] {
	e := &Handle[V]{
		value:   value,
		deleter: deleter,
		charge:  charge,
		hash:    hash,
		refs:    1, // for the returned handle
		key:     append([]byte(nil), key...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && !s.closed {
		e.refs++ // for the shard's reference
		e.inCache = true
		appendTo(&s.inUse, e)
		s.pinned++
		s.usage += charge
		if old := s.table.insert(e); old != nil {
			s.finishErase(old, EvictReplace)
		}
	}

	for s.usage > s.capacity && !s.lru.empty() {
		old := s.lru.next
		if old.refs != 1 {
			panic(fmt.Sprintf("cache: lru entry with refs=%d", old.refs))
		}
		s.finishErase(s.table.remove(old.key, old.hash), EvictCapacity)
	}
	s.reportLocked()
	return e
}

// Lookup returns a new reference to the entry for key, or nil.
func (s *shard[V]) Lookup(key []byte, hash uint32) *Handle[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.table.lookup(key, hash)
	if e == nil {
		s.misses.Add(1)
		s.metrics.Miss()
		return nil
	}
	s.ref(e)
	s.hits.Add(1)
	s.metrics.Hit()
	return e
}

// acquire returns a new reference like Lookup but leaves hit/miss counters alone.
func (s *shard[V]) acquire(key []byte, hash uint32) *Handle[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.table.lookup(key, hash)
	if e != nil {
		s.ref(e)
	}
	return e
}

// Release drops one caller reference.
func (s *shard[V]) Release(e *Handle[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unref(e)
}

// Erase removes key from the index. The entry itself is freed once every
// outstanding handle has been released.
func (s *shard[V]) Erase(key []byte, hash uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErase(s.table.remove(key, hash), EvictErase) {
		s.reportLocked()
	}
}

// Prune drops every entry not held by a caller and returns how many went.
func (s *shard[V]) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pruneLocked(EvictPrune)
	if n > 0 {
		s.reportLocked()
	}
	return n
}

// TotalCharge returns the charge of all indexed entries.
func (s *shard[V]) TotalCharge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Len returns the number of indexed entries.
func (s *shard[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.len()
}

// Pinned returns the number of indexed entries currently held by callers.
func (s *shard[V]) Pinned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// Stats snapshots the shard's counters.
func (s *shard[V]) Stats() ShardStats {
	s.mu.Lock()
	st := ShardStats{
		Shard:    s.id,
		Entries:  s.table.len(),
		Pinned:   s.pinned,
		Usage:    s.usage,
		Capacity: s.capacity,
	}
	s.mu.Unlock()
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	st.Evictions = s.evicts.Load()
	return st
}

// destroy releases every evictable entry. The caller must have verified that
// no entry is pinned; a pinned entry here means a handle was never released.
func (s *shard[V]) destroy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inUse.empty() {
		panic(fmt.Sprintf("cache: shard %d closed with %d unreleased handles", s.id, s.pinned))
	}
	n := s.pruneLocked(EvictClose)
	s.closed = true
	s.reportLocked()
	return n
}

// -------------------- internals (mu held) --------------------

func (s *shard[V]) ref(e *Handle[V]) {
	if e.refs == 1 && e.inCache { // on lru list: promote to inUse
		unlink(e)
		appendTo(&s.inUse, e)
		s.pinned++
	}
	e.refs++
}

func (s *shard[V]) unref(e *Handle[V]) {
	if e.refs == 0 {
		panic("cache: release of a handle with no references")
	}
	e.refs--
	switch {
	case e.refs == 0:
		if e.inCache {
			panic("cache: freeing an entry that is still indexed")
		}
		if e.deleter != nil {
			e.deleter(e.key, e.value)
		}
		var zero V
		e.value = zero
		e.deleter = nil
	case e.inCache && e.refs == 1:
		// No longer in use by callers; move to lru as the newest entry.
		unlink(e)
		appendTo(&s.lru, e)
		s.pinned--
	}
}

// finishErase completes removal of e, which the caller has already taken out
// of the table. It reports whether e was non-nil.
func (s *shard[V]) finishErase(e *Handle[V], reason EvictReason) bool {
	if e == nil {
		return false
	}
	if !e.inCache {
		panic("cache: erasing an entry that is not cached")
	}
	if e.refs > 1 {
		s.pinned--
	}
	unlink(e)
	e.inCache = false
	s.usage -= e.charge
	s.evicts.Add(1)
	s.metrics.Evict(reason)
	s.unref(e)
	return true
}

func (s *shard[V]) pruneLocked(reason EvictReason) int {
	n := 0
	for !s.lru.empty() {
		e := s.lru.next
		if e.refs != 1 {
			panic(fmt.Sprintf("cache: lru entry with refs=%d", e.refs))
		}
		s.finishErase(s.table.remove(e.key, e.hash), reason)
		n++
	}
	return n
}

func (s *shard[V]) reportLocked() {
	s.metrics.Usage(s.id, s.table.len(), s.usage)
}
