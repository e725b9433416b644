/*
Package worker runs the single background loop that drains the task queue.

The worker repeatedly picks the most urgent queued task, executes it through
an injected Executor, and applies the retry policy on failure. It does not
interpret operation names; the tool layer registers an Executor at startup
and the worker treats operations as opaque strings.

# Loop Behavior

	┌─────────────────────────────────────────────┐
	│  loop:                                      │
	│    stop requested?        → exit            │
	│    peek next queued task                    │
	│    none?                  → sleep 1s        │
	│    mark running, execute                    │
	│    success → store result, sleep 100ms      │
	│    failure → retry or fail terminally       │
	│    loop error             → sleep 5s        │
	└─────────────────────────────────────────────┘

The pauses keep one worker from saturating the remote API and turn a
persistent fault into a slow error trickle instead of a storm. Executor
panics are recovered and handled as task failures.

# Retry Policy

Failures retry up to MaxRetries times with exponential backoff: the delay is
InitialBackoff shifted left by the current retry count (1s, 2s, 4s with the
defaults). The backoff sleep happens inside the iteration that failed, before
the task is requeued, so a requeued task is immediately eligible when the
loop comes back around. After the last retry the task is marked failed with
its final error.

# Lifecycle

Start launches the goroutine and errors with ErrAlreadyRunning on an active
worker. Stop signals the loop, waits up to StopTimeout for the current task,
then cancels the executor context and keeps waiting. Sleeps are interruptible
by Stop. A stopped worker can be started again.

# Usage Example

	w := worker.New(q, worker.ExecutorFunc(executeTool), worker.DefaultConfig())
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()
*/
package worker
