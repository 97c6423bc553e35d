// Package stage defines the capability contracts modules plug into the
// pipeline: stage handlers resolved chain-of-responsibility style, and
// opt-in lifecycle hooks dispatched around each stage.
package stage
