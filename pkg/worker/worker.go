package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/metrics"
	"github.com/m365mcp/m365-cache/pkg/queue"
	"github.com/m365mcp/m365-cache/pkg/types"
)

// Executor runs one named operation against the tool layer. The worker does
// not interpret the operation string; the tool layer registers an
// implementation at startup.
type Executor interface {
	Execute(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	return f(ctx, operation, params)
}

// ErrAlreadyRunning is returned by Start on an active worker.
var ErrAlreadyRunning = errors.New("worker: already running")

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Config holds worker timing and retry policy.
type Config struct {
	MaxRetries      int           // retries before a task fails terminally; zero disables retries
	InitialBackoff  time.Duration // first retry delay, doubled per retry
	IdleInterval    time.Duration // sleep when the queue is empty
	PostTaskDelay   time.Duration // pause after a completed task
	ErrorRetryDelay time.Duration // pause after an unexpected loop error
	StopTimeout     time.Duration // soft deadline before forced cancellation
}

// DefaultConfig returns the standard worker timings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialBackoff:  time.Second,
		IdleInterval:    time.Second,
		PostTaskDelay:   100 * time.Millisecond,
		ErrorRetryDelay: 5 * time.Second,
		StopTimeout:     30 * time.Second,
	}
}

// Worker is the single background loop that drains the task queue. It is
// cooperative: Stop is observed between iterations, and backoff sleeps are
// performed inside the iteration that failed.
type Worker struct {
	queue    *queue.Queue
	executor Executor
	cfg      Config
	logger   zerolog.Logger

	mu     sync.Mutex
	state  state
	stopCh chan struct{}
	doneCh chan struct{}
	cancel context.CancelFunc
}

// New creates a worker draining tasks from q through executor. Unset timings
// fall back to their DefaultConfig values individually; MaxRetries is taken
// as given, since zero is a valid policy.
func New(q *queue.Queue, executor Executor, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.PostTaskDelay <= 0 {
		cfg.PostTaskDelay = def.PostTaskDelay
	}
	if cfg.ErrorRetryDelay <= 0 {
		cfg.ErrorRetryDelay = def.ErrorRetryDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	metrics.RegisterComponent("worker", false, "not started")
	return &Worker{
		queue:    q,
		executor: executor,
		cfg:      cfg,
		logger:   log.WithComponent("worker"),
	}
}

// Start launches the loop. Starting an active worker is an error.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.state = stateRunning

	go w.run(ctx)
	metrics.UpdateComponent("worker", true, "")
	w.logger.Info().Msg("background worker started")
	return nil
}

// Stop signals the loop and waits for it to exit. After the soft deadline
// the executor context is cancelled and Stop keeps waiting for the loop.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != stateRunning {
		w.mu.Unlock()
		return
	}
	w.state = stateStopping
	stopCh, doneCh, cancel := w.stopCh, w.doneCh, w.cancel
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn().Msg("worker did not stop in time, cancelling")
		cancel()
		<-doneCh
	}

	w.mu.Lock()
	w.state = stateIdle
	w.mu.Unlock()
	metrics.UpdateComponent("worker", false, "stopped")
	w.logger.Info().Msg("background worker stopped")
}

// run is the worker loop: pick the next queued task, execute it, apply the
// retry policy on failure. Unexpected errors pause the loop briefly so a
// persistent fault cannot turn into an error storm.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.cancel()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		task, err := w.queue.PeekNext()
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to peek task queue")
			if !w.sleep(w.cfg.ErrorRetryDelay) {
				return
			}
			continue
		}
		if task == nil {
			if !w.sleep(w.cfg.IdleInterval) {
				return
			}
			continue
		}

		if err := w.process(ctx, task); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("task processing error")
			if !w.sleep(w.cfg.ErrorRetryDelay) {
				return
			}
		}
	}
}

// process runs one task end to end, including the backoff sleep before a
// retry is requeued. Panics from the executor are converted to task errors.
func (w *Worker) process(ctx context.Context, task *types.Task) error {
	logger := log.WithTaskID(task.ID).With().Str("component", "worker").Str("operation", task.Operation).Logger()

	if err := w.queue.MarkRunning(task.ID); err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}

	var params map[string]any
	if len(task.ParametersJSON) > 0 {
		if err := json.Unmarshal(task.ParametersJSON, &params); err != nil {
			return w.fail(task, fmt.Errorf("invalid task parameters: %w", err))
		}
	}

	timer := metrics.NewTimer()
	result, execErr := w.execute(ctx, task.Operation, params)
	timer.ObserveDuration(metrics.TaskDuration)

	if execErr == nil {
		envelope, err := json.Marshal(map[string]any{
			"success":   true,
			"operation": task.Operation,
			"result":    json.RawMessage(result),
		})
		if err != nil {
			return w.fail(task, fmt.Errorf("failed to encode task result: %w", err))
		}
		if err := w.queue.MarkCompleted(task.ID, envelope); err != nil {
			return fmt.Errorf("failed to mark task completed: %w", err)
		}
		metrics.TasksProcessedTotal.WithLabelValues("completed").Inc()
		logger.Debug().Msg("task completed")
		w.sleep(w.cfg.PostTaskDelay)
		return nil
	}

	if task.RetryCount < w.cfg.MaxRetries {
		delay := w.cfg.InitialBackoff << task.RetryCount
		logger.Warn().Err(execErr).
			Int("retry", task.RetryCount+1).
			Dur("backoff", delay).
			Msg("task failed, retrying")
		w.sleep(delay)
		if err := w.queue.RequeueForRetry(task.ID, task.RetryCount+1, execErr.Error()); err != nil {
			return fmt.Errorf("failed to requeue task: %w", err)
		}
		metrics.TasksProcessedTotal.WithLabelValues("retried").Inc()
		return nil
	}

	return w.fail(task, execErr)
}

func (w *Worker) fail(task *types.Task, cause error) error {
	if err := w.queue.MarkFailed(task.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	metrics.TasksProcessedTotal.WithLabelValues("failed").Inc()
	w.logger.Error().Err(cause).Str("task_id", task.ID).Msg("task failed terminally")
	return nil
}

// execute invokes the injected executor with panic recovery.
func (w *Worker) execute(ctx context.Context, operation string, params map[string]any) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return w.executor.Execute(ctx, operation, params)
}

// sleep waits for d or until Stop is signalled. Returns false when stopping.
func (w *Worker) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-w.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
