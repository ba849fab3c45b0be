package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"automator-go/internal/model"
)

// StepHandler runs one step. integration is the active integration matching
// the step's IntegrationType, or nil when the step declares none. The
// returned value is JSON-encoded into the step result.
type StepHandler func(ctx context.Context, step model.Step, integration *model.Integration) (any, error)

// Registry maps step types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]StepHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]StepHandler),
	}
}

// Register registers a handler for a step type, replacing any previous one.
func (r *Registry) Register(stepType string, handler StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stepType] = handler
}

// Handler returns the handler for a step type.
func (r *Registry) Handler(stepType string) (StepHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for step type: %s", stepType)
	}
	return handler, nil
}

// Types lists registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
