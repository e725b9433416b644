package warmer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/m365mcp/m365-cache/pkg/cache"
	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/metrics"
	"github.com/m365mcp/m365-cache/pkg/types"
)

// Executor fetches one operation's data on behalf of a specific account.
// Unlike the background worker, warming always runs the same plan for every
// account, so the account is part of the call rather than the parameters.
type Executor interface {
	Execute(ctx context.Context, accountID, operation string, params map[string]any) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, accountID, operation string, params map[string]any) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, accountID, operation string, params map[string]any) (json.RawMessage, error) {
	return f(ctx, accountID, operation, params)
}

// PlanItem is one step of the warming plan, executed once per account.
type PlanItem struct {
	Operation       string         `yaml:"operation" json:"operation"`
	Params          map[string]any `yaml:"params" json:"params"`
	Priority        int            `yaml:"priority" json:"priority"`
	ThrottleSeconds int            `yaml:"throttle_seconds" json:"throttle_seconds"`
}

// DefaultPlan seeds the hottest read paths: the folder tree, the inbox
// listing, and contacts.
func DefaultPlan() []PlanItem {
	return []PlanItem{
		{
			Operation:       "folder_get_tree",
			Params:          map[string]any{"folder_id": "root", "max_depth": 10},
			Priority:        1,
			ThrottleSeconds: 2,
		},
		{
			Operation:       "email_list",
			Params:          map[string]any{"folder_id": "inbox", "limit": 25},
			Priority:        2,
			ThrottleSeconds: 2,
		},
		{
			Operation:       "contact_list",
			Params:          map[string]any{"limit": 50},
			Priority:        3,
			ThrottleSeconds: 3,
		},
	}
}

// DefaultMaxRPS bounds warming pressure on the remote API.
const DefaultMaxRPS = 4

// Warmer seeds the cache at startup by executing the warming plan for every
// account. It owns its single goroutine and is independent of the background
// worker; items already fresh in the cache are skipped.
type Warmer struct {
	cache    *cache.Manager
	executor Executor
	accounts []string
	plan     []PlanItem
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu      sync.Mutex
	warming bool
	status  types.WarmerStatus

	sleep func(time.Duration)
}

// New creates a warmer for the given accounts and plan. A nil plan selects
// DefaultPlan; maxRPS <= 0 selects DefaultMaxRPS.
func New(c *cache.Manager, executor Executor, accounts []string, plan []PlanItem, maxRPS float64) *Warmer {
	if plan == nil {
		plan = DefaultPlan()
	}
	if maxRPS <= 0 {
		maxRPS = DefaultMaxRPS
	}
	return &Warmer{
		cache:    c,
		executor: executor,
		accounts: accounts,
		plan:     plan,
		limiter:  rate.NewLimiter(rate.Limit(maxRPS), 1),
		logger:   log.WithComponent("warmer"),
		sleep:    time.Sleep,
	}
}

type workItem struct {
	accountID string
	item      PlanItem
}

// Start launches the warming run. It returns immediately; a run already in
// progress or an empty account list makes it a no-op.
func (w *Warmer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.warming {
		w.logger.Debug().Msg("warming already in progress")
		return
	}
	if len(w.accounts) == 0 {
		w.logger.Debug().Msg("no accounts to warm")
		return
	}

	items := w.buildQueue()
	now := time.Now().UTC()
	w.warming = true
	w.status = types.WarmerStatus{
		IsWarming: true,
		StartedAt: &now,
		Total:     len(items),
	}

	go w.run(items)
}

// buildQueue expands accounts x plan and orders by priority ascending.
func (w *Warmer) buildQueue() []workItem {
	var items []workItem
	for _, accountID := range w.accounts {
		for _, item := range w.plan {
			items = append(items, workItem{accountID: accountID, item: item})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].item.Priority < items[j].item.Priority
	})
	return items
}

// run executes the warming queue sequentially. Individual failures are
// counted and never abort the batch.
func (w *Warmer) run(items []workItem) {
	w.logger.Info().Int("items", len(items)).Int("accounts", len(w.accounts)).Msg("cache warming started")

	for _, wi := range items {
		// Skip anything a user already pulled into the cache.
		if _, state, ok := w.cache.Get(wi.accountID, wi.item.Operation, wi.item.Params); ok && state == types.CacheStateFresh {
			w.bump(func(s *types.WarmerStatus) { s.Skipped++ })
			metrics.WarmingItemsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := w.limiter.Wait(context.Background()); err != nil {
			break
		}

		result, err := w.executor.Execute(context.Background(), wi.accountID, wi.item.Operation, wi.item.Params)
		if err != nil {
			w.logger.Warn().Err(err).
				Str("account_id", wi.accountID).
				Str("operation", wi.item.Operation).
				Msg("warming item failed")
			w.bump(func(s *types.WarmerStatus) { s.Failed++ })
			metrics.WarmingItemsTotal.WithLabelValues("failed").Inc()
			continue
		}

		var data any
		if err := json.Unmarshal(result, &data); err == nil {
			if err := w.cache.Set(wi.accountID, wi.item.Operation, wi.item.Params, data); err != nil {
				w.logger.Warn().Err(err).Str("operation", wi.item.Operation).Msg("warming write rejected")
			}
		}

		w.bump(func(s *types.WarmerStatus) { s.Completed++ })
		metrics.WarmingItemsTotal.WithLabelValues("completed").Inc()

		if wi.item.ThrottleSeconds > 0 {
			w.sleep(time.Duration(wi.item.ThrottleSeconds) * time.Second)
		}
	}

	now := time.Now().UTC()
	w.mu.Lock()
	w.warming = false
	w.status.IsWarming = false
	w.status.CompletedAt = &now
	w.mu.Unlock()

	status := w.Status()
	w.logger.Info().
		Int("completed", status.Completed).
		Int("skipped", status.Skipped).
		Int("failed", status.Failed).
		Float64("duration_seconds", status.DurationSeconds).
		Msg("cache warming finished")
}

func (w *Warmer) bump(update func(*types.WarmerStatus)) {
	w.mu.Lock()
	update(&w.status)
	w.mu.Unlock()
}

// Status returns a snapshot of warming progress.
func (w *Warmer) Status() types.WarmerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := w.status
	if status.StartedAt != nil {
		end := time.Now().UTC()
		if status.CompletedAt != nil {
			end = *status.CompletedAt
		}
		status.DurationSeconds = end.Sub(*status.StartedAt).Seconds()
	}
	if status.Total > 0 {
		done := status.Completed + status.Skipped + status.Failed
		status.ProgressPct = 100 * float64(done) / float64(status.Total)
	}
	return status
}
