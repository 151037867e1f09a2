package cache

// Handle is a reference-counted cache entry. A *Handle returned by Insert,
// Lookup or GetOrLoad is a right to exactly one Release call; the entry's
// value stays valid until that call.
//
// A handle lives on at most one of the shard's two intrusive circular lists:
// the LRU list (refs == 1, only the shard holds it) or the in-use list
// (refs >= 2). Entries erased from the index while still held are on neither.
type Handle[V any] struct {
	value   V
	deleter Deleter[V]

	nextHash *Handle[V] // bucket chain in handleTable

	// Intrusive circular list links.
	next *Handle[V]
	prev *Handle[V]

	charge  int
	inCache bool   // whether the shard holds a reference (entry is indexed)
	refs    uint32 // including the shard's reference, if inCache
	hash    uint32 // hash of key; used for routing and bucket compares
	key     []byte // owned copy
}

// Key returns the entry's own copy of the key. Callers must not modify it.
func (h *Handle[V]) Key() []byte { return h.key }

// Value returns the cached value.
func (h *Handle[V]) Value() V { return h.value }

// Charge returns the capacity units the entry consumes while cached.
func (h *Handle[V]) Charge() int { return h.charge }

// initList turns h into the dummy head of an empty circular list.
func (h *Handle[V]) initList() {
	h.next = h
	h.prev = h
}

// empty reports whether the list headed by h has no members.
func (h *Handle[V]) empty() bool { return h.next == h }

// unlink removes e from whichever list it is on.
func unlink[V any](e *Handle[V]) {
	e.next.prev = e.prev
	e.prev.next = e.next
	e.next, e.prev = nil, nil
}

// appendTo makes e the newest member of list (inserted just before the head),
// so list.next is always the oldest entry.
func appendTo[V any](list, e *Handle[V]) {
	e.next = list
	e.prev = list.prev
	e.prev.next = e
	e.next.prev = e
}
