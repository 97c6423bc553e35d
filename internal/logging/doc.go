// Package logging assembles the structured slog loggers used across
// skimmer components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so queue and pipeline code
// tag log lines with job ids, item sources, and stage names the same way
// everywhere. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
