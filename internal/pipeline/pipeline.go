package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"skimmer/internal/config"
	"skimmer/internal/history"
	"skimmer/internal/logging"
	"skimmer/internal/media"
	"skimmer/internal/stage"
)

// Batching constants for the publish stage. The cap bounds merged batch
// size; the idle window bounds how long a batch waits for upstream to
// produce more items.
const (
	batchMaxItems   = 10
	batchIdleWindow = 2 * time.Second
	batchPollStep   = 50 * time.Millisecond
)

// Pipeline is the three-stage orchestrator. Construct exactly one per
// process and pass it by handle to every component that needs it.
type Pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	history *history.Store
	hooks   *stage.HookSet

	acquireQ   *acquireQueue
	transformQ *fifoQueue
	publishQ   *fifoQueue

	chains map[stage.Name]*stage.Chain

	pollInterval time.Duration
	maintenance  atomic.Bool

	currentMu sync.RWMutex
	current   map[stage.Name]media.Item

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional pipeline behavior.
type Option func(*Pipeline)

// WithPollInterval overrides the stage poll interval (used in tests).
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// New constructs the pipeline around its history collaborator.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	pollInterval := time.Second
	if cfg != nil && cfg.Pipeline.PollInterval > 0 {
		pollInterval = time.Duration(cfg.Pipeline.PollInterval) * time.Second
	}
	p := &Pipeline{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		history:      store,
		hooks:        stage.NewHookSet(logger),
		acquireQ:     newAcquireQueue(),
		transformQ:   newFIFOQueue(),
		publishQ:     newFIFOQueue(),
		pollInterval: pollInterval,
		current:      make(map[stage.Name]media.Item),
		chains: map[stage.Name]*stage.Chain{
			stage.Acquire:   stage.NewChain(),
			stage.Transform: stage.NewChain(),
			stage.Publish:   stage.NewChain(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hooks exposes the lifecycle hook dispatcher for registration.
func (p *Pipeline) Hooks() *stage.HookSet {
	return p.hooks
}

// RegisterHandler front-inserts a handler into the named stage's chain.
func (p *Pipeline) RegisterHandler(name stage.Name, handler stage.Handler, module string) {
	if chain, ok := p.chains[name]; ok {
		chain.Register(handler, module)
	}
}

// UnregisterModule removes every handler and hook the named module
// registered. Items already in flight keep any handler reference they
// resolved; items not yet resolved fall through to whatever remains.
func (p *Pipeline) UnregisterModule(module string) {
	for _, chain := range p.chains {
		chain.UnregisterModule(module)
	}
	p.hooks.UnregisterModule(module)
}

// Enqueue admits a work item into the acquire queue after the dedup gate.
// Already-processed (group, source) pairs are dropped silently; this is
// the at-most-once guarantee against redundant acquisition.
func (p *Pipeline) Enqueue(ctx context.Context, item *media.Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	processed, err := p.history.IsProcessed(ctx, item.Group, item.Source)
	if err != nil {
		// The gate exists to avoid duplicate work, not to lose new work:
		// when history is unreadable the item is admitted.
		p.logger.Warn("dedup lookup failed; admitting item",
			logging.Error(err),
			logging.String(logging.FieldSource, item.Source))
	}
	if processed {
		p.logger.Debug("dropping already-processed item",
			logging.String(logging.FieldSource, item.Source),
			logging.String("group", item.Group))
		return nil
	}
	p.acquireQ.push(item)
	return nil
}

// SetMaintenance toggles the cooperative global pause. Stages observe the
// flag at the top of every loop iteration and idle while it is set.
func (p *Pipeline) SetMaintenance(enabled bool) {
	p.maintenance.Store(enabled)
}

// Maintenance reports whether the global pause flag is set.
func (p *Pipeline) Maintenance() bool {
	return p.maintenance.Load()
}

// Start launches the three stage workers.
func (p *Pipeline) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(3)
	go p.runAcquire(runCtx)
	go p.runTransform(runCtx)
	go p.runPublish(runCtx)
	return nil
}

// Stop signals the workers and waits for them to drain their current item.
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.runMu.Unlock()

	cancel()
	p.wg.Wait()
}

// HealthChecks collects readiness reports from registered handlers that
// implement stage.HealthChecker, in stage order.
func (p *Pipeline) HealthChecks(ctx context.Context) []stage.Health {
	var out []stage.Health
	for _, name := range []stage.Name{stage.Acquire, stage.Transform, stage.Publish} {
		out = append(out, p.chains[name].HealthChecks(ctx)...)
	}
	return out
}

// QueueDepths reports how many items each stage queue currently holds.
func (p *Pipeline) QueueDepths() (acquire, transform, publish int) {
	return p.acquireQ.len(), p.transformQ.len(), p.publishQ.len()
}

// CurrentItems returns advisory snapshots of each stage's in-flight item.
// The snapshots are frozen at the moment the stage picked the item up; the
// live item stays exclusively owned by its stage worker.
func (p *Pipeline) CurrentItems() map[stage.Name]media.Item {
	p.currentMu.RLock()
	defer p.currentMu.RUnlock()
	out := make(map[stage.Name]media.Item, len(p.current))
	for name, item := range p.current {
		// Re-copy so callers never share the stored snapshot's map or slice.
		out[name] = item.Snapshot()
	}
	return out
}

// setCurrent publishes a detached snapshot of the in-flight item. The
// snapshot is taken here, on the owning worker, before the map write; the
// shared map never holds a pointer the worker keeps mutating.
func (p *Pipeline) setCurrent(name stage.Name, item *media.Item) {
	var snap media.Item
	if item != nil {
		snap = item.Snapshot()
	}
	p.currentMu.Lock()
	defer p.currentMu.Unlock()
	if item == nil {
		delete(p.current, name)
		return
	}
	p.current[name] = snap
}

func (p *Pipeline) stageBusy(name stage.Name) bool {
	p.currentMu.RLock()
	defer p.currentMu.RUnlock()
	_, busy := p.current[name]
	return busy
}

// upstreamBusy reports whether acquire or transform still has queued or
// in-flight work. The publish batcher uses this to decide between waiting
// out the idle window and flushing immediately.
func (p *Pipeline) upstreamBusy() bool {
	if p.acquireQ.len() > 0 || p.transformQ.len() > 0 {
		return true
	}
	return p.stageBusy(stage.Acquire) || p.stageBusy(stage.Transform)
}

func (p *Pipeline) waitOrShutdown(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
