package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m365mcp/m365-cache/pkg/security"
	"github.com/m365mcp/m365-cache/pkg/storage"
	"github.com/m365mcp/m365-cache/pkg/types"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()

	box, err := security.NewBox(make([]byte, security.KeySize))
	require.NoError(t, err)
	store, err := storage.Open(t.TempDir(), box)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolveDetectsAndPersists(t *testing.T) {
	store := newTestStore(t)

	var detections atomic.Int32
	resolver := NewClassResolver(store, DetectorFunc(func(ctx context.Context, accountID string) (types.AccountClass, error) {
		detections.Add(1)
		return types.AccountClassWorkSchool, nil
	}))

	class := resolver.Resolve(context.Background(), "a@corp.example.com")
	assert.Equal(t, types.AccountClassWorkSchool, class)
	assert.Equal(t, int32(1), detections.Load())

	// Second call reads the persisted record without re-detecting.
	class = resolver.Resolve(context.Background(), "a@corp.example.com")
	assert.Equal(t, types.AccountClassWorkSchool, class)
	assert.Equal(t, int32(1), detections.Load())

	rec, err := store.GetAccountClass("a@corp.example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.AccountClassWorkSchool, rec.Class)
	assert.False(t, rec.DetectedAt.IsZero())
}

func TestResolveDetectionFailure(t *testing.T) {
	store := newTestStore(t)

	var detections atomic.Int32
	resolver := NewClassResolver(store, DetectorFunc(func(ctx context.Context, accountID string) (types.AccountClass, error) {
		detections.Add(1)
		return "", errors.New("network unreachable")
	}))

	class := resolver.Resolve(context.Background(), "a@example.com")
	assert.Equal(t, types.AccountClassUnknown, class)

	// Failures are not persisted, so the next call retries detection.
	rec, err := store.GetAccountClass("a@example.com")
	require.NoError(t, err)
	assert.Nil(t, rec)

	resolver.Resolve(context.Background(), "a@example.com")
	assert.Equal(t, int32(2), detections.Load())
}

func TestResolveDeduplicatesConcurrentDetection(t *testing.T) {
	store := newTestStore(t)

	var detections atomic.Int32
	resolver := NewClassResolver(store, DetectorFunc(func(ctx context.Context, accountID string) (types.AccountClass, error) {
		detections.Add(1)
		time.Sleep(50 * time.Millisecond)
		return types.AccountClassPersonal, nil
	}))

	var wg sync.WaitGroup
	results := make([]types.AccountClass, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = resolver.Resolve(context.Background(), "a@example.com")
		}(i)
	}
	wg.Wait()

	// Ten concurrent misses collapse into one detector call.
	assert.Equal(t, int32(1), detections.Load())
	for _, class := range results {
		assert.Equal(t, types.AccountClassPersonal, class)
	}
}

func TestResolveSeparateAccounts(t *testing.T) {
	store := newTestStore(t)

	resolver := NewClassResolver(store, DetectorFunc(func(ctx context.Context, accountID string) (types.AccountClass, error) {
		if accountID == "personal@example.com" {
			return types.AccountClassPersonal, nil
		}
		return types.AccountClassWorkSchool, nil
	}))

	assert.Equal(t, types.AccountClassPersonal, resolver.Resolve(context.Background(), "personal@example.com"))
	assert.Equal(t, types.AccountClassWorkSchool, resolver.Resolve(context.Background(), "work@corp.example.com"))
}
