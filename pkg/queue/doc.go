/*
Package queue implements the durable priority queue for background tasks.

Tasks are persisted in the encrypted store the moment they are enqueued and
survive process restarts. The queue holds the task state machine; the worker
package drives it.

# Task Lifecycle

	          Enqueue
	             │
	             ▼
	┌──────── queued ◀────────────┐
	│            │                │
	│       MarkRunning      RequeueForRetry
	│            ▼                │
	│         running ────────────┤
	│            │                │
	│     ┌──────┴──────┐         │
	│     ▼             ▼         │
	│ completed      failed ◀─────┘ (retries exhausted)
	│  (terminal)   (terminal)
	└─ ReclaimStale (crash recovery)

Selection order is priority ascending (1 is most urgent, 10 least), FIFO by
creation time within a priority. Enqueue with priority 0 selects the default
of 5; anything outside 1..10 is rejected with ErrInvalidPriority.

Completed tasks keep their result JSON and failed tasks their last error, so
clients can poll GetStatus after the fact.

# Crash Recovery

A task that was running when the process died stays "running" in the store
forever. ReclaimStale, called once at startup, resets running tasks older
than a threshold back to queued with their retry counts intact.

# Usage Example

	q := queue.New(store)

	id, err := q.Enqueue(accountID, "email_list", params, 0)
	if err != nil {
		return err
	}

	// later
	task, err := q.GetStatus(id)
	if errors.Is(err, queue.ErrTaskNotFound) {
		// unknown or expired ID
	}
*/
package queue
