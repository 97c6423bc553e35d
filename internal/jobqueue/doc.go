// Package jobqueue implements the single-worker FIFO queue that dispatches
// heterogeneous jobs to their registered executors.
//
// Exactly one job executes at a time. The pending queue is persisted to a
// JSON snapshot on every mutation and reloaded at startup; retry semantics
// live entirely in the pipeline, never here.
package jobqueue
