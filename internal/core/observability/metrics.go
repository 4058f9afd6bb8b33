package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	rangeReadSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "range_read_duration_seconds",
			Help:    "Latency of remote byte-range reads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"scheme", "outcome"},
	)

	rangeReadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "range_read_bytes_total",
			Help: "Bytes returned by remote byte-range reads.",
		},
		[]string{"scheme"},
	)

	tileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_fetch_total",
			Help: "Tile fetches by final outcome.",
		},
		[]string{"outcome"},
	)

	tileRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_fetch_retries_total",
			Help: "Retries of transient tile fetch failures.",
		},
	)

	planTiles = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan_tiles",
			Help:    "Number of tiles selected per plan.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"axis"},
	)

	resolveResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_resolve_total",
			Help: "Catalog resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	subsetSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subset_duration_seconds",
			Help:    "End-to-end subset pipeline latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache results by layer and outcome.",
		},
		[]string{"layer", "outcome"},
	)

	redisOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations by op and result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	hotKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_hot_keys",
			Help: "Number of tile ranges tracked by the hotness model.",
		},
	)

)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		rangeReadSeconds, rangeReadBytes,
		tileFetches, tileRetries, planTiles,
		resolveResults, subsetSeconds, cacheResults,
		redisOpSeconds, hotKeys,
	}
}

// Init toggles recording and additionally registers every vec on reg.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveRangeRead(scheme, outcome string, n int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	rangeReadSeconds.WithLabelValues(scheme, outcome).Observe(durationSeconds)
	if n > 0 {
		rangeReadBytes.WithLabelValues(scheme).Add(float64(n))
	}
}

// ObserveTile records the final outcome of one tile: ok, not_found, failed or cancelled.
func ObserveTile(outcome string) {
	if !enabled.Load() {
		return
	}
	tileFetches.WithLabelValues(outcome).Inc()
}

func IncRetry() {
	if !enabled.Load() {
		return
	}
	tileRetries.Inc()
}

func ObservePlan(axis string, tiles int) {
	if !enabled.Load() {
		return
	}
	planTiles.WithLabelValues(axis).Observe(float64(tiles))
}

func ObserveResolve(outcome string) {
	if !enabled.Load() {
		return
	}
	resolveResults.WithLabelValues(outcome).Inc()
}

func ObserveSubset(outcome string, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	subsetSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func IncCacheHit(layer string) {
	if !enabled.Load() {
		return
	}
	cacheResults.WithLabelValues(layer, "hit").Inc()
}

func IncCacheMiss(layer string) {
	if !enabled.Load() {
		return
	}
	cacheResults.WithLabelValues(layer, "miss").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisOpSeconds.WithLabelValues(op, result).Observe(durationSeconds)
}

func SetHotKeys(n int) {
	if !enabled.Load() {
		return
	}
	hotKeys.Set(float64(n))
}
