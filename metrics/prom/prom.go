// Package prom exports cache.Metrics signals as Prometheus metrics.
package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/lsmcache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	evicts  *prometheus.CounterVec
	entries *prometheus.GaugeVec
	charge  *prometheus.GaugeVec

	shardLabels []string // preformatted "0".."255"
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Lookups that found a cached entry",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Lookups that found nothing",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Entries removed from the index by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "shard_entries",
				Help:        "Indexed entries per shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		charge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "shard_charge",
				Help:        "Charge of indexed entries per shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		shardLabels: make([]string, 256),
	}
	for i := range a.shardLabels {
		a.shardLabels[i] = strconv.Itoa(i)
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.entries, a.charge)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Usage updates the per-shard gauges.
func (a *Adapter) Usage(shard, entries, charge int) {
	label := strconv.Itoa(shard)
	if shard >= 0 && shard < len(a.shardLabels) {
		label = a.shardLabels[shard]
	}
	a.entries.WithLabelValues(label).Set(float64(entries))
	a.charge.WithLabelValues(label).Set(float64(charge))
}

var _ cache.Metrics = (*Adapter)(nil)
