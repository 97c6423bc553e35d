package jobqueue

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is a top-level unit of work submitted by a trigger source. Executors
// run it to completion and emit zero or more work items as a side effect.
type Job struct {
	ID        string
	Type      string
	CreatedAt time.Time

	// Params is the job's open configuration payload. There is no fixed
	// schema; read through the typed getters.
	Params map[string]any

	mu             sync.Mutex
	status         Status
	errorMessage   string
	totalItems     int
	processedItems int
}

// NewJob constructs a waiting job of the given type.
func NewJob(jobType string, params map[string]any) *Job {
	if params == nil {
		params = make(map[string]any)
	}
	return &Job{
		ID:        uuid.NewString(),
		Type:      strings.TrimSpace(jobType),
		CreatedAt: time.Now().UTC(),
		Params:    params,
		status:    StatusWaiting,
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// setStatus transitions the job. Terminal states are never re-entered.
func (j *Job) setStatus(status Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusDone || j.status == StatusFailed {
		return
	}
	j.status = status
}

// Fail marks the job failed with a reason. Executors call this for
// unrecoverable errors; normal completion is recorded by the queue worker.
func (j *Job) Fail(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusDone || j.status == StatusFailed {
		return
	}
	j.status = StatusFailed
	j.errorMessage = reason
}

// ErrorMessage returns the failure reason, if any.
func (j *Job) ErrorMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errorMessage
}

// AddTotal increments the expected item counter as executors spawn work.
func (j *Job) AddTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.totalItems += n
}

// AddProcessed increments the processed counter. The publish stage calls
// this once per original item as batches complete.
func (j *Job) AddProcessed(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.processedItems += n
}

// Progress returns the item counters.
func (j *Job) Progress() (processed, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.processedItems, j.totalItems
}

// StringParam reads a string parameter with a fallback.
func (j *Job) StringParam(key, fallback string) string {
	v, ok := j.Params[key]
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

// IntParam reads an integer parameter defensively: ints, floats, and
// numeric strings all count. JSON round-trips turn ints into float64.
func (j *Job) IntParam(key string, fallback int) int {
	v, ok := j.Params[key]
	if !ok {
		return fallback
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return fallback
}

// BoolParam reads a boolean parameter with a fallback.
func (j *Job) BoolParam(key string, fallback bool) bool {
	v, ok := j.Params[key]
	if !ok {
		return fallback
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return fallback
}

// View is an immutable copy of job state for status queries.
type View struct {
	ID             string
	Type           string
	CreatedAt      time.Time
	Status         Status
	ErrorMessage   string
	TotalItems     int
	ProcessedItems int
	Params         map[string]any
}

// View snapshots the job for observability.
func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	params := make(map[string]any, len(j.Params))
	for k, v := range j.Params {
		params[k] = v
	}
	return View{
		ID:             j.ID,
		Type:           j.Type,
		CreatedAt:      j.CreatedAt,
		Status:         j.status,
		ErrorMessage:   j.errorMessage,
		TotalItems:     j.totalItems,
		ProcessedItems: j.processedItems,
		Params:         params,
	}
}
