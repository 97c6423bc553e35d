package media

import (
	"fmt"
	"time"

	"skimmer/internal/jobqueue"
)

// DefaultMaxRetries is the retry budget applied to new items unless the
// creator overrides it.
const DefaultMaxRetries = 3

// Metadata keys with meaning to the core. Modules may add arbitrary keys of
// their own alongside these.
const (
	// MetaHandlerVariant hints which handler variant should claim the item.
	MetaHandlerVariant = "handler"
	// MetaAuthHeader carries an Authorization header value for acquisition.
	MetaAuthHeader = "auth_header"
	// MetaBatchSize tags a merged item with the number of originals it carries.
	MetaBatchSize = "batch_size"
)

// Item is a single piece of media in flight through the pipeline.
//
// An item is exclusively owned by whichever stage queue currently holds it.
// The Job pointer is a non-owning back-reference used only for progress
// counter updates.
type Item struct {
	Source string
	Name   string
	Job    *jobqueue.Job

	// Group keys dedup history. Usually the creator or board the item
	// came from.
	Group string
	// Priority orders the acquire queue. Higher runs first; zero means
	// insertion order.
	Priority int

	AcquiredPath     string
	TransformedPaths []string
	Meta             map[string]string

	RetryCount   int
	MaxRetries   int
	FirstAttempt time.Time
	LastErr      error
}

// NewItem constructs a work item bound to its owning job.
func NewItem(source, name string, job *jobqueue.Job) *Item {
	return &Item{
		Source:       source,
		Name:         name,
		Job:          job,
		Meta:         make(map[string]string),
		MaxRetries:   DefaultMaxRetries,
		FirstAttempt: time.Now().UTC(),
	}
}

// ShouldRetry reports whether the retry budget still allows another attempt.
func (i *Item) ShouldRetry() bool {
	return i.RetryCount < i.MaxRetries
}

// Backoff returns the delay before the next retry. The n-th retry (n being
// the current retry count) waits exactly 2^n seconds.
func (i *Item) Backoff() time.Duration {
	return time.Duration(1<<uint(i.RetryCount)) * time.Second
}

// RecordFailure notes a failed attempt and consumes one retry.
func (i *Item) RecordFailure(err error) {
	i.RetryCount++
	i.LastErr = err
}

// SetMeta stores a metadata value, allocating the map when needed.
func (i *Item) SetMeta(key, value string) {
	if i.Meta == nil {
		i.Meta = make(map[string]string)
	}
	i.Meta[key] = value
}

// MetaValue returns the metadata value for key, or fallback when absent.
func (i *Item) MetaValue(key, fallback string) string {
	if i.Meta == nil {
		return fallback
	}
	if v, ok := i.Meta[key]; ok {
		return v
	}
	return fallback
}

// Merge builds the synthetic item that represents a publish batch. It
// inherits the first item's source and metadata; its transformed artifact
// list is the concatenation of every member's artifacts in order.
func Merge(items []*Item) *Item {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0]
	}
	first := items[0]
	merged := &Item{
		Source:       first.Source,
		Name:         first.Name,
		Job:          first.Job,
		Group:        first.Group,
		AcquiredPath: first.AcquiredPath,
		Meta:         make(map[string]string, len(first.Meta)+1),
		MaxRetries:   first.MaxRetries,
		FirstAttempt: first.FirstAttempt,
	}
	for k, v := range first.Meta {
		merged.Meta[k] = v
	}
	merged.Meta[MetaBatchSize] = fmt.Sprintf("%d", len(items))
	for _, item := range items {
		merged.TransformedPaths = append(merged.TransformedPaths, item.TransformedPaths...)
	}
	return merged
}

// Snapshot returns a read-only copy for observability. The copy shares no
// mutable state with the live item apart from the job back-reference.
func (i *Item) Snapshot() Item {
	cp := *i
	cp.TransformedPaths = append([]string(nil), i.TransformedPaths...)
	cp.Meta = make(map[string]string, len(i.Meta))
	for k, v := range i.Meta {
		cp.Meta[k] = v
	}
	return cp
}
