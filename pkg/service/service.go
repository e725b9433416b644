package service

import (
	"fmt"
	"os"

	"github.com/m365mcp/m365-cache/pkg/cache"
	"github.com/m365mcp/m365-cache/pkg/config"
	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/metrics"
	"github.com/m365mcp/m365-cache/pkg/queue"
	"github.com/m365mcp/m365-cache/pkg/security"
	"github.com/m365mcp/m365-cache/pkg/storage"
	"github.com/m365mcp/m365-cache/pkg/warmer"
	"github.com/m365mcp/m365-cache/pkg/worker"
)

// Service is the assembled caching subsystem: the encrypted store, the cache
// manager, the task queue with its background worker, and the cache warmer.
// The embedding server creates one Service at startup and shuts it down with
// Stop.
type Service struct {
	Store  *storage.BoltStore
	Cache  *cache.Manager
	Queue  *queue.Queue
	Worker *worker.Worker
	Warmer *warmer.Warmer
}

// Options carry the collaborators the subsystem cannot construct itself.
type Options struct {
	// Executor runs queued background tasks against the tool layer.
	Executor worker.Executor

	// WarmExecutor fetches warming data per account. Nil disables warming.
	WarmExecutor warmer.Executor
}

// Start wires the subsystem together from the configuration: it loads the
// encryption key, opens the store, sweeps stranded running tasks, starts the
// background worker, kicks off cache warming, and serves the metrics and
// health endpoints on cfg.MetricsAddr (empty disables the listener).
func Start(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := log.WithComponent("service")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	key, err := security.LoadOrCreateKey()
	if err != nil {
		return nil, err
	}
	box, err := security.NewBox(key)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.DataDir, box)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	mgr := cache.NewManager(store, cache.Config{
		MaxEntryBytes:   cfg.Cache.MaxEntryBytes,
		MaxTotalBytes:   cfg.Cache.MaxTotalBytes,
		CompressAtBytes: cfg.Cache.CompressAtBytes,
	})

	q := queue.New(store)
	if threshold := cfg.Worker.StaleRunningThreshold(); threshold > 0 {
		if _, err := q.ReclaimStale(threshold); err != nil {
			logger.Warn().Err(err).Msg("stale task sweep failed")
		}
	}

	w := worker.New(q, opts.Executor, worker.Config{
		MaxRetries:     cfg.Worker.MaxRetries,
		InitialBackoff: cfg.Worker.InitialBackoff(),
	})
	if err := w.Start(); err != nil {
		store.Close()
		return nil, err
	}

	var wm *warmer.Warmer
	if opts.WarmExecutor != nil {
		wm = warmer.New(mgr, opts.WarmExecutor, cfg.Warming.Accounts, cfg.Warming.Plan, cfg.Warming.MaxRPS)
		wm.Start()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server exited")
			}
		}()
	}

	return &Service{
		Store:  store,
		Cache:  mgr,
		Queue:  q,
		Worker: w,
		Warmer: wm,
	}, nil
}

// Stop shuts the worker down and closes the store.
func (s *Service) Stop() error {
	s.Worker.Stop()
	return s.Store.Close()
}
