/*
Package metrics provides Prometheus metrics and health checking for the cache
server.

Metrics are package-level collectors registered at init time and updated
directly by the owning subsystems:

	m365_cache_hits_total / misses_total / sets_total
	m365_cache_entries, m365_cache_bytes          (gauges)
	m365_cache_evictions_total{cause}             expired | lru
	m365_cache_invalidations_total
	m365_cache_eviction_duration_seconds
	m365_tasks_total{status}                      queue depth by status
	m365_tasks_processed_total{result}            completed | retried | failed
	m365_task_duration_seconds
	m365_warming_items_total{outcome}             completed | skipped | failed

Serve exposes /metrics, /health, and /ready on a loopback address. Health
aggregates component reports registered via RegisterComponent/
UpdateComponent; readiness additionally requires the critical components
(storage, cache, worker) to be registered and healthy.

	metrics.RegisterComponent("storage", true, "")
	go metrics.Serve("127.0.0.1:9464")

Timer measures durations for histogram observation:

	timer := metrics.NewTimer()
	doWork()
	timer.ObserveDuration(metrics.TaskDuration)
*/
package metrics
