/*
Package types defines the shared data structures for the cache, task queue,
and search subsystems.

Keeping these in a leaf package lets storage, cache, queue, worker, warmer,
and search exchange records without import cycles. The types carry JSON tags
because the storage engine serializes them as JSON before encryption.

Core enumerations:

	CacheState    fresh | stale | expired
	TaskStatus    queued | running | completed | failed
	AccountClass  personal | work_school | unknown

Core records:

	CacheEntry          cache metadata (payload bytes stored separately)
	Task                one queued background operation
	InvalidationRecord  append-only audit row per invalidation
	AccountClassRecord  persisted account class detection result
	CacheTotals         running entry/byte/hit/miss counters
	CacheStats          aggregate view with per-account breakdowns
	WarmerStatus        warming progress snapshot
	SchemaVersion       applied storage migration marker
*/
package types
