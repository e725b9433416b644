package types

import (
	"encoding/json"
	"time"
)

// CacheState describes how old a cache entry is relative to its TTL policy.
type CacheState string

const (
	CacheStateFresh   CacheState = "fresh"
	CacheStateStale   CacheState = "stale"
	CacheStateExpired CacheState = "expired"
)

// TaskStatus represents the lifecycle state of a background task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// AccountClass identifies which remote search dialect an account supports.
type AccountClass string

const (
	AccountClassPersonal   AccountClass = "personal"
	AccountClassWorkSchool AccountClass = "work_school"
	AccountClassUnknown    AccountClass = "unknown"
)

// CacheEntry is the metadata for one cached object. The payload bytes are
// stored separately so scans over entries stay cheap.
type CacheEntry struct {
	Key          string    `json:"key"`
	AccountID    string    `json:"account_id"`
	ResourceType string    `json:"resource_type"`
	Compressed   bool      `json:"compressed"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	AccessedAt   time.Time `json:"accessed_at"`
	FreshUntil   time.Time `json:"fresh_until"`
	ExpiresAt    time.Time `json:"expires_at"`
	HitCount     int64     `json:"hit_count"`
}

// Task represents one queued background operation.
type Task struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Operation      string          `json:"operation"`
	ParametersJSON json.RawMessage `json:"parameters_json,omitempty"`
	Priority       int             `json:"priority"`
	Status         TaskStatus      `json:"status"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ResultJSON     json.RawMessage `json:"result_json,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// InvalidationRecord is one append-only audit row written for every cache
// invalidation, successful or not.
type InvalidationRecord struct {
	ID                 uint64    `json:"id"`
	AccountID          string    `json:"account_id,omitempty"`
	Pattern            string    `json:"pattern"`
	Reason             string    `json:"reason"`
	InvalidatedAt      time.Time `json:"invalidated_at"`
	EntriesInvalidated int       `json:"entries_invalidated"`
}

// AccountClassRecord is the persisted result of account class detection.
type AccountClassRecord struct {
	AccountID  string       `json:"account_id"`
	Class      AccountClass `json:"class"`
	DetectedAt time.Time    `json:"detected_at"`
}

// CacheTotals are the running counters maintained alongside cache writes.
type CacheTotals struct {
	Entries    int64 `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
}

// CacheStats is the aggregate view returned by the cache's Stats operation.
type CacheStats struct {
	Entries    int64            `json:"entries"`
	TotalBytes int64            `json:"total_bytes"`
	AvgBytes   int64            `json:"avg_bytes"`
	TotalHits  int64            `json:"total_hits"`
	TotalMiss  int64            `json:"total_misses"`
	MaxBytes   int64            `json:"max_bytes"`
	UsagePct   float64          `json:"usage_pct"`
	ByAccount  map[string]int64 `json:"by_account"`
	ByResource map[string]int64 `json:"by_resource"`
}

// WarmerStatus is a point-in-time snapshot of cache warming progress.
type WarmerStatus struct {
	IsWarming       bool       `json:"is_warming"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	Skipped         int        `json:"skipped"`
	Failed          int        `json:"failed"`
	ProgressPct     float64    `json:"progress_pct"`
}

// SchemaVersion records one applied storage migration.
type SchemaVersion struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}
