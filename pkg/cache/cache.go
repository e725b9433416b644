package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/metrics"
	"github.com/m365mcp/m365-cache/pkg/storage"
	"github.com/m365mcp/m365-cache/pkg/types"
)

// ErrEntryTooLarge is returned by Set when the stored payload would exceed
// the per-entry limit.
var ErrEntryTooLarge = errors.New("cache: entry exceeds maximum payload size")

// Config holds cache sizing limits.
type Config struct {
	MaxEntryBytes   int64 // reject payloads larger than this
	MaxTotalBytes   int64 // capacity ceiling for all payloads
	CompressAtBytes int64 // gzip payloads at or above this encoded size
}

// DefaultConfig returns the production limits: 10 MiB per entry, 2 GiB
// total, compression from 50 KiB.
func DefaultConfig() Config {
	return Config{
		MaxEntryBytes:   10 << 20,
		MaxTotalBytes:   2 << 30,
		CompressAtBytes: 50 << 10,
	}
}

// Eviction thresholds relative to MaxTotalBytes: a pass triggers at the
// first and deletes down to the second.
const (
	cleanupTriggerPct = 0.8
	cleanupTargetPct  = 0.6
)

// Manager is the cache core. It is a best-effort accelerator: read failures
// downgrade to misses and write failures to no-ops, so callers never fail
// because of the cache (the one exception is ErrEntryTooLarge).
type Manager struct {
	store  storage.Store
	cfg    Config
	logger zerolog.Logger

	now func() time.Time
}

// NewManager creates a cache manager on top of the given store. Unset limits
// fall back to their DefaultConfig values individually.
func NewManager(store storage.Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = def.MaxEntryBytes
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = def.MaxTotalBytes
	}
	if cfg.CompressAtBytes <= 0 {
		cfg.CompressAtBytes = def.CompressAtBytes
	}
	metrics.RegisterComponent("cache", true, "")
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("cache"),
		now:    time.Now,
	}
}

// Set serialises data as JSON, compresses it when large, and upserts the
// entry under the key derived from (resourceType, accountID, params). After
// the write it checks capacity and runs an eviction pass if needed.
func (m *Manager) Set(accountID, resourceType string, params map[string]any, data any) error {
	key, err := DeriveKey(resourceType, accountID, params)
	if err != nil {
		return fmt.Errorf("failed to derive cache key: %w", err)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	payload := encoded
	compressed := false
	if int64(len(encoded)) >= m.cfg.CompressAtBytes {
		payload, err = gzipCompress(encoded)
		if err != nil {
			return fmt.Errorf("failed to compress cache value: %w", err)
		}
		compressed = true
	}

	if int64(len(payload)) > m.cfg.MaxEntryBytes {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(payload))
	}

	now := m.now()
	policy := PolicyFor(resourceType)
	entry := &types.CacheEntry{
		Key:          key,
		AccountID:    accountID,
		ResourceType: resourceType,
		Compressed:   compressed,
		SizeBytes:    int64(len(payload)),
		CreatedAt:    now,
		AccessedAt:   now,
		FreshUntil:   now.Add(policy.Fresh),
		ExpiresAt:    now.Add(policy.Stale),
	}

	if err := m.store.PutEntry(entry, payload); err != nil {
		// Best effort: a failed cache write must not fail the caller.
		m.logger.Warn().Err(err).Str("key", key).Msg("cache write dropped")
		return nil
	}

	metrics.CacheSetsTotal.Inc()
	m.maybeEvict()
	return nil
}

// Get looks up (resourceType, accountID, params). It returns the decoded
// value with its freshness state, or ok=false on a miss. Entries past the
// stale horizon are deleted and reported as misses; decode failures are
// logged, the entry dropped, and a miss returned.
func (m *Manager) Get(accountID, resourceType string, params map[string]any) (any, types.CacheState, bool) {
	key, err := DeriveKey(resourceType, accountID, params)
	if err != nil {
		m.logger.Warn().Err(err).Msg("cache key derivation failed")
		return nil, "", false
	}

	entry, err := m.store.GetEntry(key)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil, "", false
	}
	if entry == nil {
		m.recordMiss()
		return nil, "", false
	}

	now := m.now()
	age := now.Sub(entry.CreatedAt)
	policy := PolicyFor(resourceType)

	if age > policy.Stale {
		if err := m.store.DeleteEntry(key); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired entry")
		}
		m.recordMiss()
		return nil, "", false
	}

	payload, err := m.store.GetPayload(key)
	if err != nil {
		m.dropBroken(key, err)
		return nil, "", false
	}
	if entry.Compressed {
		payload, err = gzipDecompress(payload)
		if err != nil {
			m.dropBroken(key, err)
			return nil, "", false
		}
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		m.dropBroken(key, err)
		return nil, "", false
	}

	entry.AccessedAt = now
	entry.HitCount++
	if err := m.store.TouchEntry(entry); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("failed to record cache access")
	}
	metrics.CacheHitsTotal.Inc()

	state := types.CacheStateFresh
	if age > policy.Fresh {
		state = types.CacheStateStale
	}
	return data, state, true
}

// InvalidatePattern deletes every entry whose key matches the glob pattern
// (optionally narrowed to one account) and appends an audit row. It never
// fails the caller: storage errors are logged and a zero count returned.
func (m *Manager) InvalidatePattern(pattern, accountID, reason string) int {
	count, err := m.store.DeleteEntriesMatching(entryMatcher(pattern, accountID))
	if err != nil {
		m.logger.Warn().Err(err).Str("pattern", pattern).Msg("invalidation failed")
		count = 0
	}

	rec := &types.InvalidationRecord{
		AccountID:          accountID,
		Pattern:            pattern,
		Reason:             reason,
		InvalidatedAt:      m.now(),
		EntriesInvalidated: count,
	}
	if err := m.store.AppendInvalidation(rec); err != nil {
		m.logger.Warn().Err(err).Str("pattern", pattern).Msg("failed to log invalidation")
	}

	metrics.CacheInvalidationsTotal.Inc()
	m.logger.Debug().
		Str("pattern", pattern).
		Str("account_id", accountID).
		Str("reason", reason).
		Int("entries", count).
		Msg("cache invalidated")
	m.updateGauges()
	return count
}

// CleanupExpired removes every entry past its expiry horizon.
func (m *Manager) CleanupExpired() int {
	count, err := m.store.DeleteExpiredEntries(m.now())
	if err != nil {
		m.logger.Warn().Err(err).Msg("expired entry cleanup failed")
		return 0
	}
	if count > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(count))
	}
	m.updateGauges()
	return count
}

// Stats aggregates the running counters with per-account and per-resource
// entry breakdowns.
func (m *Manager) Stats() (*types.CacheStats, error) {
	totals, err := m.store.Totals()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache totals: %w", err)
	}

	byAccount := make(map[string]int64)
	byResource := make(map[string]int64)
	if err := m.store.ForEachEntry(func(entry *types.CacheEntry) error {
		byAccount[entry.AccountID]++
		byResource[entry.ResourceType]++
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to scan cache entries: %w", err)
	}

	stats := &types.CacheStats{
		Entries:    totals.Entries,
		TotalBytes: totals.TotalBytes,
		TotalHits:  totals.Hits,
		TotalMiss:  totals.Misses,
		MaxBytes:   m.cfg.MaxTotalBytes,
		ByAccount:  byAccount,
		ByResource: byResource,
	}
	if totals.Entries > 0 {
		stats.AvgBytes = totals.TotalBytes / totals.Entries
	}
	if m.cfg.MaxTotalBytes > 0 {
		stats.UsagePct = 100 * float64(totals.TotalBytes) / float64(m.cfg.MaxTotalBytes)
	}
	return stats, nil
}

// maybeEvict runs a capacity pass when stored bytes reach the trigger
// threshold, deleting down to the target threshold.
func (m *Manager) maybeEvict() {
	totals, err := m.store.Totals()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to read cache totals")
		return
	}
	m.updateGaugesFrom(totals)

	trigger := int64(cleanupTriggerPct * float64(m.cfg.MaxTotalBytes))
	if totals.TotalBytes < trigger {
		return
	}

	timer := metrics.NewTimer()
	target := int64(cleanupTargetPct * float64(m.cfg.MaxTotalBytes))
	expired, evicted, err := m.store.EvictEntries(m.now(), target)
	if err != nil {
		m.logger.Error().Err(err).Msg("eviction pass failed")
		return
	}
	timer.ObserveDuration(metrics.EvictionDuration)

	metrics.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(expired))
	metrics.CacheEvictionsTotal.WithLabelValues("lru").Add(float64(evicted))
	m.logger.Info().
		Int("expired", expired).
		Int("evicted", evicted).
		Int64("target_bytes", target).
		Msg("cache eviction pass completed")
	m.updateGauges()
}

func (m *Manager) recordMiss() {
	if err := m.store.RecordMiss(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to record cache miss")
	}
	metrics.CacheMissesTotal.Inc()
}

// dropBroken removes an entry whose payload cannot be read or decoded.
func (m *Manager) dropBroken(key string, cause error) {
	m.logger.Warn().Err(cause).Str("key", key).Msg("dropping unreadable cache entry")
	if err := m.store.DeleteEntry(key); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("failed to drop unreadable entry")
	}
	m.recordMiss()
}

func (m *Manager) updateGauges() {
	totals, err := m.store.Totals()
	if err != nil {
		return
	}
	m.updateGaugesFrom(totals)
}

func (m *Manager) updateGaugesFrom(totals *types.CacheTotals) {
	metrics.CacheEntries.Set(float64(totals.Entries))
	metrics.CacheBytes.Set(float64(totals.TotalBytes))
}
