// Package media defines the work item that flows through the acquire,
// transform, and publish stages, including its retry state machine.
package media
