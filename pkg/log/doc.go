/*
Package log provides structured logging using zerolog.

The package wraps zerolog behind a global logger with component-scoped child
loggers, configurable levels, and JSON or console output. All subsystems log
through it with a "component" field, so one server's output can be filtered
per concern:

	{"level":"info","component":"cache","entries":412,"message":"cache eviction pass completed"}

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("worker")
	logger.Warn().Err(err).Str("task_id", id).Msg("task failed, retrying")

Init must be called once at startup; console output with RFC3339 timestamps
is the default, JSON is for production. WithAccountID and WithTaskID build
child loggers for request-scoped fields.

Cached Microsoft 365 data and encryption key material must never be logged.
Loggers receive identifiers (account IDs, task IDs, cache keys) and counts,
not payloads.
*/
package log
