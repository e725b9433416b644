package cache

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/security"
	"github.com/m365mcp/m365-cache/pkg/storage"
	"github.com/m365mcp/m365-cache/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *storage.BoltStore) {
	t.Helper()

	key := make([]byte, security.KeySize)
	box, err := security.NewBox(key)
	require.NoError(t, err)

	store, err := storage.Open(t.TempDir(), box)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewManager(store, cfg), store
}

func TestSetGetRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	params := map[string]any{"folder_id": "inbox", "limit": 25}
	value := map[string]any{"messages": []any{map[string]any{"subject": "hello"}}}

	require.NoError(t, mgr.Set("a@example.com", "email_list", params, value))

	got, state, ok := mgr.Get("a@example.com", "email_list", params)
	require.True(t, ok)
	assert.Equal(t, types.CacheStateFresh, state)
	assert.Equal(t, value, got)
}

func TestGetMiss(t *testing.T) {
	mgr, store := newTestManager(t, DefaultConfig())

	_, _, ok := mgr.Get("a@example.com", "email_list", nil)
	assert.False(t, ok)

	totals, err := store.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Misses)
}

func TestFreshnessLifecycle(t *testing.T) {
	// email_list is fresh for 2 minutes and served stale until 10.
	mgr, store := newTestManager(t, DefaultConfig())

	start := time.Now().UTC()
	clock := start
	mgr.now = func() time.Time { return clock }

	params := map[string]any{"folder_id": "inbox"}
	require.NoError(t, mgr.Set("a@example.com", "email_list", params, []any{"msg"}))

	clock = start.Add(time.Minute)
	_, state, ok := mgr.Get("a@example.com", "email_list", params)
	require.True(t, ok)
	assert.Equal(t, types.CacheStateFresh, state)

	clock = start.Add(5 * time.Minute)
	_, state, ok = mgr.Get("a@example.com", "email_list", params)
	require.True(t, ok)
	assert.Equal(t, types.CacheStateStale, state)

	// Past the stale horizon the entry is deleted and counted as a miss.
	clock = start.Add(11 * time.Minute)
	_, _, ok = mgr.Get("a@example.com", "email_list", params)
	assert.False(t, ok)

	key, err := DeriveKey("email_list", "a@example.com", params)
	require.NoError(t, err)
	entry, err := store.GetEntry(key)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetUpdatesAccessMetadata(t *testing.T) {
	mgr, store := newTestManager(t, DefaultConfig())

	require.NoError(t, mgr.Set("a@example.com", "email_list", nil, "value"))
	for i := 0; i < 3; i++ {
		_, _, ok := mgr.Get("a@example.com", "email_list", nil)
		require.True(t, ok)
	}

	entry, err := store.GetEntry("email_list:a@example.com")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(3), entry.HitCount)

	totals, err := store.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Hits)
}

func TestCompressionThreshold(t *testing.T) {
	mgr, store := newTestManager(t, DefaultConfig())

	tests := []struct {
		name       string
		size       int
		compressed bool
	}{
		{name: "below threshold stays raw", size: 49 << 10, compressed: false},
		{name: "above threshold is compressed", size: 60 << 10, compressed: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := fmt.Sprintf("user%d@example.com", i)
			value := strings.Repeat("a", tt.size)
			require.NoError(t, mgr.Set(account, "email_get", nil, value))

			entry, err := store.GetEntry("email_get:" + account)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, tt.compressed, entry.Compressed)
			if tt.compressed {
				assert.Less(t, entry.SizeBytes, int64(tt.size))
			}

			got, _, ok := mgr.Get(account, "email_get", nil)
			require.True(t, ok)
			assert.Equal(t, value, got)
		})
	}
}

func TestSetRejectsOversizedEntry(t *testing.T) {
	cfg := Config{
		MaxEntryBytes:   1 << 10,
		MaxTotalBytes:   1 << 20,
		CompressAtBytes: 1 << 20, // keep compression out of the way
	}
	mgr, _ := newTestManager(t, cfg)

	err := mgr.Set("a@example.com", "file_get", nil, strings.Repeat("x", 4<<10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntryTooLarge)

	_, _, ok := mgr.Get("a@example.com", "file_get", nil)
	assert.False(t, ok)
}

func TestInvalidatePattern(t *testing.T) {
	mgr, store := newTestManager(t, DefaultConfig())

	require.NoError(t, mgr.Set("a@example.com", "email_list", map[string]any{"folder_id": "inbox"}, "a-inbox"))
	require.NoError(t, mgr.Set("a@example.com", "email_list", map[string]any{"folder_id": "sent"}, "a-sent"))
	require.NoError(t, mgr.Set("b@example.com", "email_list", map[string]any{"folder_id": "inbox"}, "b-inbox"))
	require.NoError(t, mgr.Set("a@example.com", "folder_get_tree", nil, "a-tree"))

	count := mgr.InvalidatePattern("email_list:*", "a@example.com", "email_send")
	assert.Equal(t, 2, count)

	// Other accounts and resource types are untouched.
	_, _, ok := mgr.Get("b@example.com", "email_list", map[string]any{"folder_id": "inbox"})
	assert.True(t, ok)
	_, _, ok = mgr.Get("a@example.com", "folder_get_tree", nil)
	assert.True(t, ok)
	_, _, ok = mgr.Get("a@example.com", "email_list", map[string]any{"folder_id": "inbox"})
	assert.False(t, ok)

	// Every invalidation leaves an audit row.
	records, err := store.ListInvalidations("", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "email_list:*", records[0].Pattern)
	assert.Equal(t, "email_send", records[0].Reason)
	assert.Equal(t, 2, records[0].EntriesInvalidated)
}

func TestInvalidatePatternNoMatches(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	// Invalidating an empty cache is a successful no-op.
	count := mgr.InvalidatePattern("email_list:*", "", "email_send")
	assert.Equal(t, 0, count)
}

func TestCapacityEviction(t *testing.T) {
	cfg := Config{
		MaxEntryBytes:   1 << 20,
		MaxTotalBytes:   10_000, // trigger at 8000, evict down to 6000
		CompressAtBytes: 1 << 20,
	}
	mgr, store := newTestManager(t, cfg)

	start := time.Now().UTC()
	clock := start
	mgr.now = func() time.Time { return clock }

	// Each entry stores a 1000-byte payload (998 chars plus JSON quotes).
	value := strings.Repeat("x", 998)
	for i := 0; i < 8; i++ {
		clock = start.Add(time.Duration(i) * time.Second)
		account := fmt.Sprintf("user%d@example.com", i)
		require.NoError(t, mgr.Set(account, "file_get", nil, value))
	}

	totals, err := store.Totals()
	require.NoError(t, err)
	assert.LessOrEqual(t, totals.TotalBytes, int64(6000))

	// The least recently accessed entries were removed first.
	_, _, ok := mgr.Get("user0@example.com", "file_get", nil)
	assert.False(t, ok)
	_, _, ok = mgr.Get("user7@example.com", "file_get", nil)
	assert.True(t, ok)
}

func TestCleanupExpired(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	start := time.Now().UTC()
	clock := start
	mgr.now = func() time.Time { return clock }

	require.NoError(t, mgr.Set("a@example.com", "email_list", nil, "short-lived")) // stale after 10m
	require.NoError(t, mgr.Set("a@example.com", "email_get", nil, "long-lived"))   // stale after 60m

	clock = start.Add(30 * time.Minute)
	assert.Equal(t, 1, mgr.CleanupExpired())
	assert.Equal(t, 0, mgr.CleanupExpired())

	_, _, ok := mgr.Get("a@example.com", "email_get", nil)
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	require.NoError(t, mgr.Set("a@example.com", "email_list", nil, "one"))
	require.NoError(t, mgr.Set("a@example.com", "folder_get_tree", nil, "two"))
	require.NoError(t, mgr.Set("b@example.com", "email_list", nil, "three"))

	_, _, ok := mgr.Get("a@example.com", "email_list", nil)
	require.True(t, ok)
	_, _, ok = mgr.Get("a@example.com", "contact_list", nil)
	require.False(t, ok)

	stats, err := mgr.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Entries)
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(1), stats.TotalMiss)
	assert.Equal(t, int64(2), stats.ByAccount["a@example.com"])
	assert.Equal(t, int64(1), stats.ByAccount["b@example.com"])
	assert.Equal(t, int64(2), stats.ByResource["email_list"])
	assert.Positive(t, stats.TotalBytes)
	assert.Positive(t, stats.AvgBytes)
}

func TestNewManagerDefaultsUnsetLimits(t *testing.T) {
	mgr, _ := newTestManager(t, Config{MaxTotalBytes: 1 << 20})

	def := DefaultConfig()
	assert.Equal(t, int64(1<<20), mgr.cfg.MaxTotalBytes)
	assert.Equal(t, def.MaxEntryBytes, mgr.cfg.MaxEntryBytes)
	assert.Equal(t, def.CompressAtBytes, mgr.cfg.CompressAtBytes)
}
