package stage

import (
	"context"

	"skimmer/internal/media"
)

// Name identifies one of the three pipeline stages.
type Name string

const (
	Acquire   Name = "acquire"
	Transform Name = "transform"
	Publish   Name = "publish"
)

// Handler claims and processes a work item at one pipeline stage.
//
// Supports must be cheap and side-effect free; Process must tolerate being
// retried, and returns an error to engage the retry state machine.
type Handler interface {
	Supports(item *media.Item) bool
	Process(ctx context.Context, item *media.Item) error
}

// Health summarizes the readiness of a handler for preflight checks.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// HealthChecker is optionally implemented by handlers that can verify
// their own dependencies.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}
