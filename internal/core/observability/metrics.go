package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

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

	acquisitionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acquisition_duration_seconds",
			Help:    "Wall time of the external acquisition process.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5m
		},
		[]string{"outcome"},
	)

	catalogOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ops_total",
			Help: "Catalog operations by result.",
		},
		[]string{"op", "result"},
	)

	catalogEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_entries",
			Help: "Number of entries in the map catalog after the last commit.",
		},
	)

	orphanCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orphan_cleanup_failures_total",
			Help: "Dataset files left behind after their catalog entry was deleted.",
		},
	)

	datasetCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_cache_results_total",
			Help: "Dataset read cache results by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	mapEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "map_events_total",
			Help: "Map lifecycle events by op and result (queued, dropped, failed, consumed, invalid).",
		},
		[]string{"op", "result"},
	)

	popularityTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "popularity_tracked_maps",
			Help: "Maps with a live view score.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		acquisitionSeconds, catalogOps, catalogEntries, orphanCleanupFailures,
		datasetCacheResults, cacheOpTotal, redisOpSeconds, mapEvents, popularityTracked,
	}
}

// Init additionally exposes the service metrics on reg. Metrics are always
// registered with the default registry. Build info stays on the default
// registry only; a dedicated registry carries its own.
func Init(reg prometheus.Registerer) {
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
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveAcquisition(outcome string, durationSeconds float64) {
	acquisitionSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func ObserveCatalogOp(op string, err error) {
	catalogOps.WithLabelValues(op, result(err)).Inc()
}

func SetCatalogEntries(n int) {
	catalogEntries.Set(float64(n))
}

func IncOrphanCleanupFailure() {
	orphanCleanupFailures.Inc()
}

func IncDatasetCacheHit(tier string) {
	datasetCacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncDatasetCacheMiss(tier string) {
	datasetCacheResults.WithLabelValues(tier, "miss").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, result(err)).Inc()
	redisOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncMapEvent(op, result string) {
	mapEvents.WithLabelValues(op, result).Inc()
}

func SetPopularityTracked(n int) {
	popularityTracked.Set(float64(n))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
