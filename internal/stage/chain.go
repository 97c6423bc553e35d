package stage

import (
	"context"
	"sync"

	"skimmer/internal/media"
)

type chainEntry struct {
	handler Handler
	module  string
}

// Chain is an ordered sequence of handlers for one stage. Registration
// inserts at the front, so the newest handler shadows older ones without
// removing them; resolution is a linear scan and the first handler whose
// Supports returns true wins. Handler counts stay in the single digits, so
// O(n) resolution is fine.
type Chain struct {
	mu      sync.RWMutex
	entries []chainEntry
}

// NewChain returns an empty handler chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register front-inserts a handler tagged with the owning module's name.
func (c *Chain) Register(handler Handler, module string) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]chainEntry{{handler: handler, module: module}}, c.entries...)
}

// UnregisterModule removes every handler the named module registered.
func (c *Chain) UnregisterModule(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	for _, entry := range c.entries {
		if entry.module != module {
			kept = append(kept, entry)
		}
	}
	c.entries = kept
}

// Resolve returns the first handler claiming the item, or nil.
func (c *Chain) Resolve(item *media.Item) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.entries {
		if entry.handler.Supports(item) {
			return entry.handler
		}
	}
	return nil
}

// HealthChecks collects readiness reports from every handler implementing
// HealthChecker, newest registration first.
func (c *Chain) HealthChecks(ctx context.Context) []Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Health
	for _, entry := range c.entries {
		if checker, ok := entry.handler.(HealthChecker); ok {
			out = append(out, checker.HealthCheck(ctx))
		}
	}
	return out
}

// Len returns the number of registered handlers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
