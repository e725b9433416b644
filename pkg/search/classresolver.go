package search

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/storage"
	"github.com/m365mcp/m365-cache/pkg/types"
)

// Detector determines the class of an account, typically by probing the
// remote API. Implemented by the authentication layer.
type Detector interface {
	DetectClass(ctx context.Context, accountID string) (types.AccountClass, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, accountID string) (types.AccountClass, error)

func (f DetectorFunc) DetectClass(ctx context.Context, accountID string) (types.AccountClass, error) {
	return f(ctx, accountID)
}

// ClassResolver is the persisted account-class cache. Detection runs once
// per account; concurrent misses for the same account are deduplicated.
type ClassResolver struct {
	store    storage.Store
	detector Detector
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewClassResolver creates a resolver over the given store and detector.
func NewClassResolver(store storage.Store, detector Detector) *ClassResolver {
	return &ClassResolver{
		store:    store,
		detector: detector,
		logger:   log.WithComponent("search"),
	}
}

// Resolve returns the account's class, detecting and persisting it on a
// miss. Detection failures yield AccountClassUnknown and are not persisted,
// so the next call retries.
func (r *ClassResolver) Resolve(ctx context.Context, accountID string) types.AccountClass {
	rec, err := r.store.GetAccountClass(accountID)
	if err != nil {
		r.logger.Warn().Err(err).Str("account_id", accountID).Msg("account class lookup failed")
	} else if rec != nil {
		return rec.Class
	}

	v, err, _ := r.group.Do(accountID, func() (any, error) {
		class, err := r.detector.DetectClass(ctx, accountID)
		if err != nil {
			return types.AccountClassUnknown, err
		}
		record := &types.AccountClassRecord{
			AccountID:  accountID,
			Class:      class,
			DetectedAt: time.Now().UTC(),
		}
		if err := r.store.PutAccountClass(record); err != nil {
			r.logger.Warn().Err(err).Str("account_id", accountID).Msg("failed to persist account class")
		}
		return class, nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("account_id", accountID).Msg("account class detection failed")
		return types.AccountClassUnknown
	}
	return v.(types.AccountClass)
}
