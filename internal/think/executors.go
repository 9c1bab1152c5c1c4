package think

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Executor performs one kind of action.
type Executor interface {
	Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, actionType string, payload json.RawMessage) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	return f(ctx, actionType, payload)
}

// Executors maps action kinds to executors.
type Executors struct {
	mu    sync.RWMutex
	byKey map[string]Executor
}

// NewExecutors creates an empty registry.
func NewExecutors() *Executors {
	return &Executors{byKey: make(map[string]Executor)}
}

// Register sets the executor for kind, replacing any previous one.
func (r *Executors) Register(kind string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[kind] = e
}

// Get returns the executor for kind.
func (r *Executors) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKey[kind]
	return e, ok
}

// Kinds returns the registered action kinds, sorted.
func (r *Executors) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Execute runs action with the executor registered for its type.
func (r *Executors) Execute(ctx context.Context, action Action) (any, error) {
	e, ok := r.Get(action.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, action.Type)
	}
	return e.Execute(ctx, action.Type, action.Payload)
}
