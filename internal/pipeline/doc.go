// Package pipeline moves work items through the acquire, transform, and
// publish stages.
//
// Each stage runs one worker goroutine over its own queue, resolves a
// handler chain-of-responsibility style, retries failures with exponential
// backoff on the worker itself, and reports every transition to the
// history store. The publish stage additionally merges immediately
// available items into time-boxed batches before handing them to a sink
// handler. Items are admitted through a dedup gate so nothing already
// processed is acquired twice.
package pipeline
