package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/m365mcp/m365-cache/pkg/log"
	"github.com/m365mcp/m365-cache/pkg/metrics"
	"github.com/m365mcp/m365-cache/pkg/storage"
	"github.com/m365mcp/m365-cache/pkg/types"
)

var (
	// ErrTaskNotFound is returned for operations on an unknown task ID.
	ErrTaskNotFound = errors.New("queue: task not found")

	// ErrInvalidPriority is returned when priority is outside 1..10.
	ErrInvalidPriority = errors.New("queue: priority must be between 1 and 10")
)

// DefaultPriority is used when Enqueue is called with priority 0.
const DefaultPriority = 5

// Queue is the durable priority task queue backed by the cache_tasks bucket.
// Tasks survive restarts; selection order is (priority ASC, created_at ASC).
type Queue struct {
	store  storage.Store
	logger zerolog.Logger
}

// New creates a queue on top of the given store.
func New(store storage.Store) *Queue {
	return &Queue{
		store:  store,
		logger: log.WithComponent("queue"),
	}
}

// Enqueue inserts a new queued task and returns its generated ID.
// Priority 1 is highest, 10 lowest; 0 selects the default.
func (q *Queue) Enqueue(accountID, operation string, params map[string]any, priority int) (string, error) {
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 1 || priority > 10 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidPriority, priority)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode task parameters: %w", err)
	}

	task := &types.Task{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Operation:      operation,
		ParametersJSON: paramsJSON,
		Priority:       priority,
		Status:         types.TaskStatusQueued,
		CreatedAt:      time.Now().UTC(),
	}

	if err := q.store.CreateTask(task); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusQueued)).Inc()
	logger := log.WithAccountID(accountID)
	logger.Debug().
		Str("component", "queue").
		Str("task_id", task.ID).
		Str("operation", operation).
		Int("priority", priority).
		Msg("task enqueued")
	return task.ID, nil
}

// PeekNext returns the next queued task in (priority, created_at) order, or
// nil when the queue is empty. It does not claim the task.
func (q *Queue) PeekNext() (*types.Task, error) {
	return q.store.NextQueuedTask()
}

// MarkRunning transitions a task to running and records its start time.
func (q *Queue) MarkRunning(taskID string) error {
	return q.transition(taskID, func(task *types.Task) {
		now := time.Now().UTC()
		task.Status = types.TaskStatusRunning
		task.StartedAt = &now
	})
}

// MarkCompleted transitions a task to completed with its result.
func (q *Queue) MarkCompleted(taskID string, resultJSON json.RawMessage) error {
	return q.transition(taskID, func(task *types.Task) {
		now := time.Now().UTC()
		task.Status = types.TaskStatusCompleted
		task.CompletedAt = &now
		task.ResultJSON = resultJSON
	})
}

// MarkFailed transitions a task to the terminal failed state.
func (q *Queue) MarkFailed(taskID string, taskErr string) error {
	return q.transition(taskID, func(task *types.Task) {
		now := time.Now().UTC()
		task.Status = types.TaskStatusFailed
		task.CompletedAt = &now
		task.LastError = taskErr
	})
}

// RequeueForRetry puts a failed task back in the queue with the new retry
// count and the error that caused the retry.
func (q *Queue) RequeueForRetry(taskID string, retryCount int, taskErr string) error {
	return q.transition(taskID, func(task *types.Task) {
		task.Status = types.TaskStatusQueued
		task.StartedAt = nil
		task.RetryCount = retryCount
		task.LastError = taskErr
	})
}

// GetStatus returns the task, or ErrTaskNotFound.
func (q *Queue) GetStatus(taskID string) (*types.Task, error) {
	task, err := q.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// List returns tasks filtered by account and status (empty matches any),
// newest first. A limit of 0 means 50.
func (q *Queue) List(accountID string, status types.TaskStatus, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.store.ListTasks(accountID, status, limit)
}

// ReclaimStale resets running tasks older than the threshold back to queued,
// preserving their retry counts. Intended as a startup sweep for tasks
// stranded by a crash. A zero threshold disables the sweep.
func (q *Queue) ReclaimStale(olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	count, err := q.store.ReclaimRunningTasks(time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale tasks: %w", err)
	}
	if count > 0 {
		q.logger.Warn().Int("count", count).Msg("requeued tasks stranded in running state")
	}
	return count, nil
}

// transition applies a single status mutation as one write.
func (q *Queue) transition(taskID string, mutate func(*types.Task)) error {
	task, err := q.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("failed to read task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	before := task.Status
	mutate(task)
	if err := q.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	metrics.TasksTotal.WithLabelValues(string(before)).Dec()
	metrics.TasksTotal.WithLabelValues(string(task.Status)).Inc()
	return nil
}
