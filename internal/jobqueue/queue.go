package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skimmer/internal/logging"
	"skimmer/internal/services"
)

// Executor runs a job to completion. Implementations are expected to be
// long-running and are invoked synchronously by the queue worker; they
// enqueue work items into the pipeline as a side effect and mark the job
// failed themselves only on unrecoverable errors.
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

// Queue serializes heterogeneous jobs to their per-type executor.
type Queue struct {
	logger       *slog.Logger
	snapshot     *snapshotFile
	pollInterval time.Duration
	observer     func(View)

	mu        sync.Mutex
	jobs      []*Job
	executors map[string]executorEntry
	paused    bool

	wake chan struct{}

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type executorEntry struct {
	executor Executor
	module   string
}

// Option configures queue construction.
type Option func(*Queue)

// WithPollInterval overrides the idle poll interval (used in tests).
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithObserver registers a callback invoked from the worker goroutine after
// each job status transition. The callback receives a detached view and must
// not block for long.
func WithObserver(fn func(View)) Option {
	return func(q *Queue) {
		q.observer = fn
	}
}

// New constructs a job queue persisting to snapshotPath. Pending jobs from
// a previous run are reloaded; a job that was mid-execution at crash time
// comes back as waiting.
func New(snapshotPath string, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{
		logger:       logging.NewComponentLogger(logger, "jobqueue"),
		snapshot:     newSnapshotFile(snapshotPath),
		pollInterval: 2 * time.Second,
		executors:    make(map[string]executorEntry),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	jobs, err := q.snapshot.load()
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	q.jobs = jobs
	if len(jobs) > 0 {
		q.logger.Info("restored pending jobs", logging.Int("count", len(jobs)))
	}
	return q, nil
}

// RegisterExecutor associates a job type with an executor. The last
// registration for a type wins. The module tag lets the registry remove
// exactly its own registrations on unload.
func (q *Queue) RegisterExecutor(jobType string, executor Executor, module string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executors[jobType] = executorEntry{executor: executor, module: module}
}

// UnregisterModule drops every executor the named module registered.
func (q *Queue) UnregisterModule(module string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for jobType, entry := range q.executors {
		if entry.module == module {
			delete(q.executors, jobType)
		}
	}
}

// Submit appends a job to the queue tail, persists, and wakes the worker.
func (q *Queue) Submit(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.signal()
	return nil
}

// SetPaused toggles the queue. Pausing lets the current job finish, then
// the worker blocks before picking up the next one.
func (q *Queue) SetPaused(paused bool) {
	q.mu.Lock()
	q.paused = paused
	q.mu.Unlock()
	if !paused {
		q.signal()
	}
}

// Paused reports whether the queue is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Jobs returns snapshots of every queued job, head first.
func (q *Queue) Jobs() []View {
	q.mu.Lock()
	pending := append([]*Job(nil), q.jobs...)
	q.mu.Unlock()
	views := make([]View, 0, len(pending))
	for _, job := range pending {
		views = append(views, job.View())
	}
	return views
}

// Len returns the number of queued jobs including the running head.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Start launches the single worker goroutine.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.running {
		return errors.New("job queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	go q.run(runCtx)
	return nil
}

// Stop terminates the worker and waits for the in-flight job to finish or
// the executor to observe cancellation.
func (q *Queue) Stop() {
	q.runMu.Lock()
	if !q.running {
		q.runMu.Unlock()
		return
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.runMu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := q.peek()
		if job == nil {
			if !q.waitForWork(ctx) {
				return
			}
			continue
		}

		q.execute(ctx, job)

		q.mu.Lock()
		if len(q.jobs) > 0 && q.jobs[0] == job {
			q.jobs = q.jobs[1:]
		}
		if err := q.persistLocked(); err != nil {
			q.logger.Error("persist queue after completion", logging.Error(err))
		}
		q.mu.Unlock()
	}
}

// peek returns the head job when the queue is non-empty and not paused.
func (q *Queue) peek() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

func (q *Queue) waitForWork(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-time.After(q.pollInterval):
		return true
	}
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	q.mu.Lock()
	entry, ok := q.executors[job.Type]
	q.mu.Unlock()

	logger := q.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, job.Type),
	)

	if !ok {
		job.Fail(fmt.Sprintf("no executor registered for type %q", job.Type))
		logger.Error("job failed: no executor for type",
			logging.String(logging.FieldEventType, "job_dispatch_failed"))
		q.notify(job)
		return
	}

	job.setStatus(StatusRunning)
	q.notify(job)
	q.mu.Lock()
	if err := q.persistLocked(); err != nil {
		logger.Error("persist queue before execution", logging.Error(err))
	}
	q.mu.Unlock()

	start := time.Now()
	logger.Info("job started", logging.String(logging.FieldEventType, "job_start"))

	// Executors and everything they enqueue inherit the job identity.
	err := runExecutor(services.WithJobID(ctx, job.ID), entry.executor, job)
	switch {
	case err != nil:
		job.Fail(err.Error())
		logger.Error("job failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_failed"),
			logging.Duration("job_duration", time.Since(start)))
	case job.Status() == StatusFailed:
		logger.Error("job failed",
			logging.String("reason", job.ErrorMessage()),
			logging.String(logging.FieldEventType, "job_failed"),
			logging.Duration("job_duration", time.Since(start)))
	default:
		job.setStatus(StatusDone)
		processed, total := job.Progress()
		logger.Info("job completed",
			logging.String(logging.FieldEventType, "job_complete"),
			logging.Int("items_spawned", total),
			logging.Int("items_processed", processed),
			logging.Duration("job_duration", time.Since(start)))
	}
	q.notify(job)
}

func (q *Queue) notify(job *Job) {
	if q.observer != nil {
		q.observer(job.View())
	}
}

// runExecutor contains executor panics so a misbehaving module fails only
// its own job.
func runExecutor(ctx context.Context, executor Executor, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return executor.Execute(ctx, job)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// persistLocked writes the snapshot. Callers hold q.mu.
func (q *Queue) persistLocked() error {
	return q.snapshot.save(q.jobs)
}
