package stage

import (
	"fmt"
	"log/slog"
	"sync"

	"skimmer/internal/logging"
	"skimmer/internal/media"
)

// Hook observers opt in to individual lifecycle events by implementing the
// matching interface. Hooks run synchronously on the stage's own worker
// goroutine, in registration order, on both success and failure paths; a
// slow or blocking hook stalls its stage, so hooks must be trusted, fast
// code. Hook errors and panics are logged, never propagated.

// BeforeAcquire fires before a handler downloads an item.
type BeforeAcquire interface {
	BeforeAcquire(item *media.Item)
}

// AfterAcquire fires after a successful acquisition.
type AfterAcquire interface {
	AfterAcquire(item *media.Item)
}

// BeforeTransform fires before a handler transforms an item.
type BeforeTransform interface {
	BeforeTransform(item *media.Item)
}

// AfterTransform fires after a successful transform.
type AfterTransform interface {
	AfterTransform(item *media.Item)
}

// BeforePublish fires before a handler publishes an item or merged batch.
type BeforePublish interface {
	BeforePublish(item *media.Item)
}

// AfterPublish fires after a successful publish.
type AfterPublish interface {
	AfterPublish(item *media.Item)
}

// OnError fires whenever a stage attempt fails, including attempts that
// will be retried.
type OnError interface {
	OnError(item *media.Item, err error, stageName Name)
}

type hookEntry[T any] struct {
	name   string
	module string
	hook   T
}

// HookSet holds registered hooks and dispatches lifecycle events. Hooks
// are type-cached at registration so each emit iterates only observers
// that implement the relevant interface.
type HookSet struct {
	logger *slog.Logger

	mu              sync.RWMutex
	beforeAcquire   []hookEntry[BeforeAcquire]
	afterAcquire    []hookEntry[AfterAcquire]
	beforeTransform []hookEntry[BeforeTransform]
	afterTransform  []hookEntry[AfterTransform]
	beforePublish   []hookEntry[BeforePublish]
	afterPublish    []hookEntry[AfterPublish]
	onError         []hookEntry[OnError]
}

// NewHookSet constructs an empty hook dispatcher.
func NewHookSet(logger *slog.Logger) *HookSet {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HookSet{logger: logging.NewComponentLogger(logger, "hooks")}
}

// Register adds a hook under the owning module's name. The hook is probed
// for each lifecycle interface it implements.
func (h *HookSet) Register(name, module string, hook any) {
	if hook == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := hook.(BeforeAcquire); ok {
		h.beforeAcquire = append(h.beforeAcquire, hookEntry[BeforeAcquire]{name, module, v})
	}
	if v, ok := hook.(AfterAcquire); ok {
		h.afterAcquire = append(h.afterAcquire, hookEntry[AfterAcquire]{name, module, v})
	}
	if v, ok := hook.(BeforeTransform); ok {
		h.beforeTransform = append(h.beforeTransform, hookEntry[BeforeTransform]{name, module, v})
	}
	if v, ok := hook.(AfterTransform); ok {
		h.afterTransform = append(h.afterTransform, hookEntry[AfterTransform]{name, module, v})
	}
	if v, ok := hook.(BeforePublish); ok {
		h.beforePublish = append(h.beforePublish, hookEntry[BeforePublish]{name, module, v})
	}
	if v, ok := hook.(AfterPublish); ok {
		h.afterPublish = append(h.afterPublish, hookEntry[AfterPublish]{name, module, v})
	}
	if v, ok := hook.(OnError); ok {
		h.onError = append(h.onError, hookEntry[OnError]{name, module, v})
	}
}

// UnregisterModule drops every hook the named module registered.
func (h *HookSet) UnregisterModule(module string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beforeAcquire = dropModule(h.beforeAcquire, module)
	h.afterAcquire = dropModule(h.afterAcquire, module)
	h.beforeTransform = dropModule(h.beforeTransform, module)
	h.afterTransform = dropModule(h.afterTransform, module)
	h.beforePublish = dropModule(h.beforePublish, module)
	h.afterPublish = dropModule(h.afterPublish, module)
	h.onError = dropModule(h.onError, module)
}

func dropModule[T any](entries []hookEntry[T], module string) []hookEntry[T] {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.module != module {
			kept = append(kept, entry)
		}
	}
	return kept
}

// EmitBefore fires the before-hook for the given stage.
func (h *HookSet) EmitBefore(name Name, item *media.Item) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch name {
	case Acquire:
		for _, entry := range h.beforeAcquire {
			h.safeCall(entry.name, "before_acquire", func() { entry.hook.BeforeAcquire(item) })
		}
	case Transform:
		for _, entry := range h.beforeTransform {
			h.safeCall(entry.name, "before_transform", func() { entry.hook.BeforeTransform(item) })
		}
	case Publish:
		for _, entry := range h.beforePublish {
			h.safeCall(entry.name, "before_publish", func() { entry.hook.BeforePublish(item) })
		}
	}
}

// EmitAfter fires the after-hook for the given stage.
func (h *HookSet) EmitAfter(name Name, item *media.Item) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch name {
	case Acquire:
		for _, entry := range h.afterAcquire {
			h.safeCall(entry.name, "after_acquire", func() { entry.hook.AfterAcquire(item) })
		}
	case Transform:
		for _, entry := range h.afterTransform {
			h.safeCall(entry.name, "after_transform", func() { entry.hook.AfterTransform(item) })
		}
	case Publish:
		for _, entry := range h.afterPublish {
			h.safeCall(entry.name, "after_publish", func() { entry.hook.AfterPublish(item) })
		}
	}
}

// EmitError fires error observers for a failed stage attempt.
func (h *HookSet) EmitError(name Name, item *media.Item, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, entry := range h.onError {
		h.safeCall(entry.name, "on_error", func() { entry.hook.OnError(item, err, name) })
	}
}

func (h *HookSet) safeCall(hookName, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("hook panicked",
				logging.String("hook", hookName),
				logging.String(logging.FieldEventType, event),
				logging.Error(fmt.Errorf("%v", r)),
			)
		}
	}()
	fn()
}
