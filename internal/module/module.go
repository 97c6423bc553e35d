package module

import (
	"context"

	"skimmer/internal/jobqueue"
	"skimmer/internal/media"
	"skimmer/internal/pipeline"
	"skimmer/internal/stage"
)

// Module is a named bundle of pipeline behavior. Init receives a Registrar
// scoped to the module; everything registered through it is tagged with the
// module's name and removed together when the module is disabled.
type Module interface {
	Name() string
	Init(ctx context.Context, reg *Registrar) error
	Shutdown(ctx context.Context) error
}

// Registrar is the registration surface handed to a module during Init.
// All registrations carry the owning module's name.
type Registrar struct {
	module   string
	pipeline *pipeline.Pipeline
	queue    *jobqueue.Queue
}

// NewRegistrar builds a registration surface for the named module.
func NewRegistrar(name string, p *pipeline.Pipeline, q *jobqueue.Queue) *Registrar {
	return &Registrar{module: name, pipeline: p, queue: q}
}

// Handler adds h to the front of the named stage's chain. Within a chain,
// the most recently registered handler wins ties.
func (r *Registrar) Handler(name stage.Name, h stage.Handler) {
	r.pipeline.RegisterHandler(name, h, r.module)
}

// Hook registers an observer. The hook object opts into events by the
// interfaces it implements.
func (r *Registrar) Hook(name string, hook any) {
	r.pipeline.Hooks().Register(name, r.module, hook)
}

// Executor binds a job type to this module. A later registration for the
// same type shadows an earlier one.
func (r *Registrar) Executor(jobType string, ex jobqueue.Executor) {
	r.queue.RegisterExecutor(jobType, ex, r.module)
}

// Enqueue hands a work item to the pipeline's acquire stage.
func (r *Registrar) Enqueue(ctx context.Context, item *media.Item) error {
	return r.pipeline.Enqueue(ctx, item)
}
