package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"skimmer/internal/history"
	"skimmer/internal/jobqueue"
	"skimmer/internal/logging"
	"skimmer/internal/pipeline"
	"skimmer/internal/services"
)

// Registry tracks every known module and its enabled state. Enabled state is
// persisted in the history store so disable decisions survive restarts.
type Registry struct {
	mu       sync.Mutex
	logger   *slog.Logger
	store    *history.Store
	pipeline *pipeline.Pipeline
	queue    *jobqueue.Queue
	entries  map[string]*entry
	order    []string
}

type entry struct {
	module  Module
	builtin bool
	enabled bool
	active  bool
	lastErr error
}

// Info is a point-in-time view of one registered module.
type Info struct {
	Name    string
	Builtin bool
	Enabled bool
	Active  bool
	Err     error
}

func NewRegistry(logger *slog.Logger, store *history.Store, p *pipeline.Pipeline, q *jobqueue.Queue) *Registry {
	return &Registry{
		logger:   logging.NewComponentLogger(logger, "modules"),
		store:    store,
		pipeline: p,
		queue:    q,
		entries:  make(map[string]*entry),
	}
}

// Add registers a module and initializes it unless it was persistently
// disabled. A module whose Init fails stays registered but inactive; its
// failure never takes down the daemon.
func (r *Registry) Add(ctx context.Context, m Module, builtin bool) error {
	name := m.Name()
	if name == "" {
		return services.Wrap(services.ErrValidation, "modules", "add", "module has no name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return services.Wrap(services.ErrValidation, "modules", "add",
			fmt.Sprintf("module %q already registered", name), nil)
	}

	enabled := true
	if persisted, found, err := r.store.ModuleEnabled(ctx, name); err != nil {
		r.logger.Warn("read module state; assuming enabled",
			logging.String(logging.FieldModule, name), logging.Error(err))
	} else if found {
		enabled = persisted
	}

	e := &entry{module: m, builtin: builtin, enabled: enabled}
	r.entries[name] = e
	r.order = append(r.order, name)

	if enabled {
		r.initLocked(ctx, name, e)
	} else {
		r.logger.Info("module disabled; skipping init",
			logging.String(logging.FieldModule, name))
	}
	return nil
}

// Enable turns a module on, persists the decision, and initializes it if it
// is not already active.
func (r *Registry) Enable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return services.Wrap(services.ErrNotFound, "modules", "enable",
			fmt.Sprintf("unknown module %q", name), nil)
	}
	if err := r.store.SetModuleEnabled(ctx, name, true); err != nil {
		return err
	}
	e.enabled = true
	if !e.active {
		r.initLocked(ctx, name, e)
	}
	if e.lastErr != nil {
		return e.lastErr
	}
	return nil
}

// Disable turns a module off, persists the decision, and removes every
// handler, hook, and executor it registered. Handlers beneath the removed
// ones become reachable again.
func (r *Registry) Disable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return services.Wrap(services.ErrNotFound, "modules", "disable",
			fmt.Sprintf("unknown module %q", name), nil)
	}
	if err := r.store.SetModuleEnabled(ctx, name, false); err != nil {
		return err
	}
	e.enabled = false
	if e.active {
		r.deactivateLocked(ctx, name, e)
	}
	return nil
}

// List returns modules in registration order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]Info, 0, len(r.entries))
	for _, name := range r.order {
		e := r.entries[name]
		infos = append(infos, Info{
			Name:    name,
			Builtin: e.builtin,
			Enabled: e.enabled,
			Active:  e.active,
			Err:     e.lastErr,
		})
	}
	return infos
}

// Names returns the sorted names of all registered modules.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Shutdown deactivates every active module in reverse registration order.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		e := r.entries[name]
		if e.active {
			r.deactivateLocked(ctx, name, e)
		}
	}
}

func (r *Registry) initLocked(ctx context.Context, name string, e *entry) {
	reg := &Registrar{module: name, pipeline: r.pipeline, queue: r.queue}
	err := r.safeInit(ctx, e.module, reg)
	if err != nil {
		e.lastErr = err
		// Strip whatever the failed Init managed to register.
		r.pipeline.UnregisterModule(name)
		r.queue.UnregisterModule(name)
		r.logger.Error("module init failed",
			logging.String(logging.FieldModule, name), logging.Error(err))
		return
	}
	e.active = true
	e.lastErr = nil
	r.logger.Info("module loaded", logging.String(logging.FieldModule, name))
}

func (r *Registry) deactivateLocked(ctx context.Context, name string, e *entry) {
	r.pipeline.UnregisterModule(name)
	r.queue.UnregisterModule(name)
	if err := e.module.Shutdown(ctx); err != nil {
		r.logger.Warn("module shutdown",
			logging.String(logging.FieldModule, name), logging.Error(err))
	}
	e.active = false
	r.logger.Info("module unloaded", logging.String(logging.FieldModule, name))
}

func (r *Registry) safeInit(ctx context.Context, m Module, reg *Registrar) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = services.Wrap(services.ErrDispatch, "modules", "init",
				fmt.Sprintf("module panic: %v", rec), nil)
		}
	}()
	return m.Init(ctx, reg)
}
