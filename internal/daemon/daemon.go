package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"skimmer/internal/api"
	"skimmer/internal/config"
	"skimmer/internal/history"
	"skimmer/internal/jobqueue"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/module"
	"skimmer/internal/modules/normalize"
	"skimmer/internal/modules/publishdir"
	"skimmer/internal/modules/search"
	"skimmer/internal/modules/webfetch"
	"skimmer/internal/notifications"
	"skimmer/internal/pipeline"
	"skimmer/internal/preflight"
	"skimmer/internal/stage"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *history.Store
	queue    *jobqueue.Queue
	pipeline *pipeline.Pipeline
	registry *module.Registry
	notifier notifications.Service

	scheduler *scheduler
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	checks  []preflight.Result
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies. The history store
// and queue snapshot are opened immediately; background workers start in
// Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	store, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	notifier := notifications.NewService(cfg)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		notifier: notifier,
		lockPath: cfg.LockFilePath(),
		lock:     flock.New(cfg.LockFilePath()),
	}

	queue, err := jobqueue.New(cfg.QueueSnapshotPath(), logger,
		jobqueue.WithPollInterval(time.Duration(cfg.Queue.PollInterval)*time.Second),
		jobqueue.WithObserver(d.onJobStatus),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	d.queue = queue

	d.pipeline = pipeline.New(cfg, store, logger,
		pipeline.WithPollInterval(time.Duration(cfg.Pipeline.PollInterval)*time.Second))
	d.registry = module.NewRegistry(logger, store, d.pipeline, queue)
	d.scheduler = newScheduler(cfg, queue, logger)

	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	d.api = apiSrv
	return d, nil
}

// Start acquires the daemon lock, verifies preflight checks, loads modules,
// and launches the queue and pipeline workers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another skimmer daemon instance is already running")
	}

	d.checks = preflight.RunAll(ctx, d.cfg)
	if !preflight.Passed(d.checks) {
		_ = d.lock.Unlock()
		for _, check := range d.checks {
			if !check.Passed {
				d.logger.Error("preflight check failed",
					logging.String("check", check.Name),
					logging.String("detail", check.Detail))
			}
		}
		return errors.New("preflight checks failed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.loadModules(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	healthy := true
	for _, health := range d.pipeline.HealthChecks(runCtx) {
		d.checks = append(d.checks, preflight.Result{
			Name:   health.Name,
			Passed: health.Ready,
			Detail: health.Detail,
		})
		if !health.Ready {
			healthy = false
			d.logger.Error("handler health check failed",
				logging.String("check", health.Name),
				logging.String("detail", health.Detail))
		}
	}
	if !healthy {
		d.registry.Shutdown(context.Background())
		_ = d.lock.Unlock()
		cancel()
		return errors.New("handler health checks failed")
	}

	d.pipeline.Hooks().Register("daemon-error-notifier", "daemon", &errorNotifier{
		notifier: d.notifier,
	})

	if err := d.pipeline.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.queue.Start(runCtx); err != nil {
		d.pipeline.Stop()
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start job queue: %w", err)
	}
	d.scheduler.start()

	d.running.Store(true)
	d.logger.Info("skimmer daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Run starts the daemon and blocks until ctx is canceled or the HTTP API
// fails. Stop is always called before returning.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	g, runCtx := errgroup.WithContext(ctx)
	if d.api != nil {
		g.Go(func() error { return d.api.serve(runCtx) })
	}
	g.Go(func() error {
		<-runCtx.Done()
		return nil
	})
	return g.Wait()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.scheduler.stop()
	if d.api != nil {
		d.api.stop()
	}
	d.queue.Stop()
	d.pipeline.Stop()
	d.registry.Shutdown(context.Background())

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("skimmer daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// loadModules registers the builtin modules and, when enabled, interprets
// external ones from the plugin directory.
func (d *Daemon) loadModules(ctx context.Context) error {
	builtins := []module.Module{
		search.New(d.cfg, d.logger),
		webfetch.New(d.cfg, d.logger),
		normalize.New(d.cfg, d.logger),
		publishdir.New(d.cfg, d.logger, d.notifier),
	}
	for _, m := range builtins {
		if err := d.registry.Add(ctx, m, true); err != nil {
			return fmt.Errorf("register builtin %s: %w", m.Name(), err)
		}
	}

	if !d.cfg.Modules.ExternalEnabled {
		return nil
	}
	external, err := module.LoadExternal(d.cfg.Paths.PluginDir, d.logger)
	if err != nil {
		return err
	}
	for _, m := range external {
		if err := d.registry.Add(ctx, m, false); err != nil {
			d.logger.Error("register external module",
				logging.String(logging.FieldModule, m.Name()), logging.Error(err))
		}
	}
	return nil
}

// SubmitJob validates and enqueues a job.
func (d *Daemon) SubmitJob(jobType string, params map[string]any) (*jobqueue.Job, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return nil, errors.New("job type is required")
	}
	job := jobqueue.NewJob(jobType, params)
	if err := d.queue.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// SetMaintenance pauses or resumes both the job queue and the pipeline
// stage workers. In-flight work finishes; nothing new starts while paused.
func (d *Daemon) SetMaintenance(enabled bool) {
	d.queue.SetPaused(enabled)
	d.pipeline.SetMaintenance(enabled)
	if enabled {
		d.logger.Info("maintenance mode enabled")
	} else {
		d.logger.Info("maintenance mode disabled")
	}
}

// Registry exposes the module registry for CLI-facing operations.
func (d *Daemon) Registry() *module.Registry { return d.registry }

// Queue exposes the job queue.
func (d *Daemon) Queue() *jobqueue.Queue { return d.queue }

// Status assembles the daemon's runtime status.
func (d *Daemon) Status() api.DaemonStatus {
	acquire, transform, publish := d.pipeline.QueueDepths()
	status := api.DaemonStatus{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Maintenance:    d.pipeline.Maintenance(),
		QueuePaused:    d.queue.Paused(),
		QueueLength:    d.queue.Len(),
		AcquireDepth:   acquire,
		TransformDepth: transform,
		PublishDepth:   publish,
		LockFilePath:   d.lockPath,
	}
	for _, check := range d.checks {
		status.Checks = append(status.Checks, api.CheckResult{
			Name:   check.Name,
			Passed: check.Passed,
			Detail: check.Detail,
		})
	}
	for name, item := range d.pipeline.CurrentItems() {
		status.InFlight = append(status.InFlight, api.StageItem{
			Stage:  string(name),
			Source: item.Source,
			Name:   item.Name,
			Retry:  item.RetryCount,
		})
	}
	return status
}

// onJobStatus runs on the queue worker goroutine after status transitions.
func (d *Daemon) onJobStatus(view jobqueue.View) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch view.Status {
	case jobqueue.StatusRunning:
		err = d.notifier.NotifyJobStarted(ctx, view.Type, view.ID)
	case jobqueue.StatusDone:
		err = d.notifier.NotifyJobCompleted(ctx, view.Type, view.ID, view.ProcessedItems)
	case jobqueue.StatusFailed:
		err = d.notifier.NotifyJobFailed(ctx, view.Type, view.ID, view.ErrorMessage)
	}
	if err != nil {
		d.logger.Warn("job notification", logging.Error(err))
	}
}

// errorNotifier forwards stage failures to the notification service.
type errorNotifier struct {
	notifier notifications.Service
}

func (n *errorNotifier) OnError(item *media.Item, err error, stageName stage.Name) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = n.notifier.NotifyItemFailed(ctx, item.Source, string(stageName), err)
}
