package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "m365_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "m365_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheSetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "m365_cache_sets_total",
			Help: "Total number of cache writes",
		},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "m365_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	CacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "m365_cache_bytes",
			Help: "Current total size of cached payloads in bytes",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m365_cache_evictions_total",
			Help: "Total number of entries removed by eviction, by cause",
		},
		[]string{"cause"},
	)

	CacheInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "m365_cache_invalidations_total",
			Help: "Total number of pattern invalidation calls",
		},
	)

	EvictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "m365_cache_eviction_duration_seconds",
			Help:    "Duration of capacity eviction passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task queue metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "m365_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m365_tasks_processed_total",
			Help: "Total number of task executions by result",
		},
		[]string{"result"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "m365_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Warming metrics
	WarmingItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m365_warming_items_total",
			Help: "Total number of warming items by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheSetsTotal)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(CacheBytes)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheInvalidationsTotal)
	prometheus.MustRegister(EvictionDuration)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksProcessedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(WarmingItemsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics, /health and /ready on addr. Blocks until the
// server fails; intended to run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	return http.ListenAndServe(addr, mux)
}
