// Package history persists the dedup ledger and per-item statistics the
// pipeline records at every stage transition, backed by SQLite.
//
// The dedup ledger is keyed by (group, identifier) and backs the gate that
// keeps already-processed items out of the acquire queue. Item statistics
// track the last recorded state and failure reason per source locator.
// Module enable flags also live here so they survive restarts.
package history
