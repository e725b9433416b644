package storage

import (
	"time"

	"github.com/m365mcp/m365-cache/pkg/types"
)

// Store defines the interface for the encrypted persistence layer shared by
// the cache core and the task queue. Implemented by BoltStore.
type Store interface {
	// Cache entries. Entry metadata and payload bytes live in separate
	// buckets; both sides of an entry are written and deleted together.
	PutEntry(entry *types.CacheEntry, payload []byte) error
	GetEntry(key string) (*types.CacheEntry, error)
	GetPayload(key string) ([]byte, error)
	TouchEntry(entry *types.CacheEntry) error
	DeleteEntry(key string) error
	DeleteEntriesMatching(match func(key string) bool) (int, error)
	DeleteExpiredEntries(now time.Time) (int, error)
	EvictEntries(now time.Time, targetBytes int64) (expired int, evicted int, err error)
	ForEachEntry(fn func(entry *types.CacheEntry) error) error

	// Running counters
	Totals() (*types.CacheTotals, error)
	RecordMiss() error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	UpdateTask(task *types.Task) error
	NextQueuedTask() (*types.Task, error)
	ListTasks(accountID string, status types.TaskStatus, limit int) ([]*types.Task, error)
	ReclaimRunningTasks(olderThan time.Time) (int, error)

	// Invalidation audit log
	AppendInvalidation(rec *types.InvalidationRecord) error
	ListInvalidations(accountID string, limit int) ([]*types.InvalidationRecord, error)

	// Account classes
	GetAccountClass(accountID string) (*types.AccountClassRecord, error)
	PutAccountClass(rec *types.AccountClassRecord) error

	// Utility
	Close() error
}
