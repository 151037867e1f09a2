// Command bench runs a synthetic block-cache workload against the cache and
// exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/lsmcache/cache"
	pmet "github.com/IvanBrykalov/lsmcache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		capacity  = flag.Int("cap", 64<<20, "cache capacity (charge units, bytes)")
		shards    = flag.Int("shards", 0, "number of shards (0=16)")
		blockSize = flag.Int("block", 4096, "charge per block")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		holdPct  = flag.Int("hold", 5, "percentage of lookups that keep their handle pinned briefly")

		keys    = flag.Int("keys", 1_000_000, "keyspace size (blocks)")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		verbose = flag.Bool("v", false, "debug logging from the cache")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	metrics := pmet.New(nil, "lsmcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c := cache.New[[]byte](cache.Options{
		Capacity: *capacity,
		Shards:   *shards,
		Metrics:  metrics,
		Logger:   logger,
	})
	defer func() { _ = c.Close() }()

	// One id per simulated table file, prefixed to block keys.
	fileID := strconv.FormatUint(c.NewID(), 10) + ":"
	bs := *blockSize
	keysMax := uint64(*keys - 1)
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var lookups, hits, loads, freed uint64
	deleter := func([]byte, []byte) { atomic.AddUint64(&freed, 1) }
	load := func(_ context.Context, key []byte) ([]byte, int, error) {
		atomic.AddUint64(&loads, 1)
		return make([]byte, bs), bs, nil // stands in for a block read
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// rand.Rand is not goroutine-safe: one source + Zipf per worker.
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			zipf := rand.NewZipf(r, *zipfS, *zipfV, keysMax)

			var held []*cache.Handle[[]byte]
			for ctx.Err() == nil {
				key := []byte(fileID + strconv.FormatUint(zipf.Uint64(), 10))
				atomic.AddUint64(&lookups, 1)
				h := c.Lookup(key)
				if h != nil {
					atomic.AddUint64(&hits, 1)
				} else {
					var err error
					if h, err = c.GetOrLoad(ctx, key, load, deleter); err != nil {
						continue
					}
				}
				if r.Intn(100) < *holdPct {
					held = append(held, h)
				} else {
					c.Release(h)
				}
				if len(held) >= 8 {
					for _, h := range held {
						c.Release(h)
					}
					held = held[:0]
				}
			}
			for _, h := range held {
				c.Release(h)
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	n := atomic.LoadUint64(&lookups)
	hitRate := 0.0
	if n > 0 {
		hitRate = float64(atomic.LoadUint64(&hits)) / float64(n) * 100
	}
	st := c.Stats()

	fmt.Printf("cap=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		*capacity, st.Shards, workersN, *keys, elapsed, *seed)
	fmt.Printf("lookups=%d (%.0f ops/s)  loads=%d  hit-rate=%.2f%%\n",
		n, float64(n)/elapsed.Seconds(), atomic.LoadUint64(&loads), hitRate)
	fmt.Printf("entries=%d  charge=%d  evictions=%d  freed=%d\n",
		st.Entries, c.TotalCharge(), st.Evictions, atomic.LoadUint64(&freed))
}
