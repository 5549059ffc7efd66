/*
Package log provides structured logging for Flanes using zerolog.

The log package wraps zerolog to give every component a JSON-structured
logger with consistent context fields, configurable level, and a
console mode for interactive use. It is initialized once via
log.Init() and is safe for concurrent use from every goroutine the CAS,
ledger, workspace manager, repository core, and GC spawn.

# Context Loggers

Component loggers attach one contextual field and return a plain
zerolog.Logger, so callers chain further fields with zerolog's own
builder:

	logger := log.WithLane("feat").With().Str("op", "accept").Logger()
	logger.Info().Str("to_state", hash).Msg("lane head advanced")

  - WithComponent("cas"|"ledger"|"workspace"|"repo"|"gc")
  - WithRepo(repoID)
  - WithLane(name)
  - WithWorkspace(name)
  - WithTransition(id)

# Levels

Debug is for per-file/per-object detail during snapshot and
materialize (high volume, off by default). Info marks state changes
that matter to an operator: a transition accepted, a lane head moved,
a GC sweep completed. Warn is for conditions that don't fail the
operation but deserve attention (a budget alert threshold crossed, a
stale lock reclaimed). Error marks an operation that failed and was
reported to the caller as a typed error.

# Format

Console mode (human-readable, colorized level prefix) is the default,
used whenever Config.JSONOutput is false; JSON output is what
`--log-json` on cmd/flanes requests. Both always carry a timestamp.
*/
package log
