package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/lsmcache/internal/singleflight"
	"github.com/IvanBrykalov/lsmcache/internal/util"
)

// ErrNoLoader is returned by GetOrLoad when called with a nil LoadFunc.
var ErrNoLoader = errors.New("cache: no loader provided")

// cache routes every call to one of a fixed set of shards by the top bits of
// the key's 32-bit hash. Shards never share a lock, so eviction is per shard:
// a hot shard may evict while a cold one is under its budget.
type cache[V any] struct {
	shards    []*shard[V]
	shardBits uint
	closed    atomic.Bool

	idMu   sync.Mutex
	lastID uint64

	opt Options
	log *slog.Logger

	// coalesces concurrent loads in GetOrLoad, keyed by key bytes.
	sf singleflight.Group[string, struct{}]
}

// NewLRU returns a cache with the given total capacity and default options.
func NewLRU[V any](capacity int) Cache[V] {
	return New[V](Options{Capacity: capacity})
}

// New constructs a cache with the provided Options.
// It panics if Capacity is negative.
func New[V any](opt Options) Cache[V] {
	if opt.Capacity < 0 {
		panic("cache: Capacity must be >= 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opt.Shards <= 0 {
		opt.Shards = DefaultShards
	}

	bits := util.ShardBits(opt.Shards)
	n := 1 << bits
	opt.Shards = n

	// ceil(Capacity/n) without overflowing near math.MaxInt.
	perShard := opt.Capacity / n
	if opt.Capacity%n != 0 {
		perShard++
	}
	shards := make([]*shard[V], n)
	for i := range shards {
		shards[i] = newShard[V](i, perShard, opt.Metrics)
	}

	c := &cache[V]{
		shards:    shards,
		shardBits: bits,
		opt:       opt,
		log:       opt.Logger,
	}
	c.log.Debug("cache: created",
		slog.Int("capacity", opt.Capacity),
		slog.Int("shards", n),
		slog.Int("shard_capacity", perShard))
	return c
}

// ShardIndex returns the shard that owns key in a cache with the given shard
// count (normalized the same way as Options.Shards).
func ShardIndex(key []byte, shards int) int {
	return util.ShardIndex(hashKey(key), util.ShardBits(shards))
}

// ---- Cache[V] implementation ----

func (c *cache[V]) Insert(key []byte, value V, charge int, deleter Deleter[V]) *Handle[V] {
	if charge < 0 {
		panic(fmt.Sprintf("cache: negative charge %d", charge))
	}
	hash := hashKey(key)
	if c.closed.Load() {
		// Closed caches behave as if capacity were zero.
		return &Handle[V]{value: value, deleter: deleter, charge: charge, hash: hash, refs: 1,
			key: append([]byte(nil), key...)}
	}
	return c.shard(hash).Insert(key, hash, value, charge, deleter)
}

func (c *cache[V]) Lookup(key []byte) *Handle[V] {
	if c.closed.Load() {
		return nil
	}
	hash := hashKey(key)
	return c.shard(hash).Lookup(key, hash)
}

// Release routes by the hash stored at insertion, never by rehashing the key.
func (c *cache[V]) Release(h *Handle[V]) {
	c.shard(h.hash).Release(h)
}

func (c *cache[V]) Erase(key []byte) {
	if c.closed.Load() {
		return
	}
	hash := hashKey(key)
	c.shard(hash).Erase(key, hash)
}

func (c *cache[V]) Value(h *Handle[V]) V { return h.value }

func (c *cache[V]) NewID() uint64 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.lastID++
	return c.lastID
}

func (c *cache[V]) Prune() {
	if c.closed.Load() {
		return
	}
	n := 0
	for _, s := range c.shards {
		n += s.Prune()
	}
	c.log.Debug("cache: pruned", slog.Int("entries", n))
}

func (c *cache[V]) TotalCharge() int {
	total := 0
	for _, s := range c.shards {
		total += s.TotalCharge()
	}
	return total
}

func (c *cache[V]) GetOrLoad(ctx context.Context, key []byte, load LoadFunc[V], deleter Deleter[V]) (*Handle[V], error) {
	if h := c.Lookup(key); h != nil {
		return h, nil
	}
	if load == nil {
		return nil, ErrNoLoader
	}

	// Only the leader's closure runs, so only the leader sets loaded.
	// Rechecks go through acquire so one logical miss is counted once.
	var loaded *Handle[V]
	_, err, leader := c.sf.Do(ctx, string(key), func() (struct{}, error) {
		if h := c.acquire(key); h != nil {
			loaded = h
			return struct{}{}, nil
		}
		h, err := c.load(ctx, key, load, deleter)
		loaded = h
		return struct{}{}, err
	})
	if err != nil {
		return nil, err
	}
	if leader {
		return loaded, nil
	}

	// Follower: take our own reference. The leader's entry may already be
	// gone (capacity 0, eviction, Erase); load it ourselves in that case.
	if h := c.acquire(key); h != nil {
		return h, nil
	}
	return c.load(ctx, key, load, deleter)
}

// acquire is Lookup without hit/miss accounting.
func (c *cache[V]) acquire(key []byte) *Handle[V] {
	if c.closed.Load() {
		return nil
	}
	hash := hashKey(key)
	return c.shard(hash).acquire(key, hash)
}

func (c *cache[V]) load(ctx context.Context, key []byte, load LoadFunc[V], deleter Deleter[V]) (*Handle[V], error) {
	v, charge, err := load(ctx, key)
	if err != nil {
		c.log.Warn("cache: load failed", slog.Int("key_len", len(key)), slog.Any("err", err))
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	return c.Insert(key, v, charge, deleter), nil
}

func (c *cache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *cache[V]) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		st.add(s.Stats())
	}
	return st
}

func (c *cache[V]) ShardStats() []ShardStats {
	out := make([]ShardStats, len(c.shards))
	for i, s := range c.shards {
		out[i] = s.Stats()
	}
	return out
}

// Close checks every shard for unreleased handles before releasing anything,
// so a misuse panic leaves the cache intact. Calls racing with Close are a
// caller bug; an Insert that reaches a shard after it was destroyed still
// returns an uncached handle, so its deleter runs on Release.
func (c *cache[V]) Close() error {
	if c.closed.Load() {
		return nil
	}
	for _, s := range c.shards {
		if n := s.Pinned(); n > 0 {
			panic(fmt.Sprintf("cache: Close with %d unreleased handles in shard %d", n, s.id))
		}
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	n := 0
	for _, s := range c.shards {
		n += s.destroy()
	}
	c.log.Debug("cache: closed", slog.Int("released", n))
	return nil
}

// ---- helpers ----

// hashKey is the single hash used for both shard routing and bucket selection.
func hashKey(key []byte) uint32 { return util.Hash32(key, 0) }

func (c *cache[V]) shard(hash uint32) *shard[V] {
	return c.shards[util.ShardIndex(hash, c.shardBits)]
}
