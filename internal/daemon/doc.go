// Package daemon wires the job queue, pipeline, module registry, scheduler,
// and HTTP API into a single supervised process. It enforces single-instance
// execution with a lock file and refuses to start when preflight checks fail.
package daemon
