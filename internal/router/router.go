package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/cortex/internal/logging"
)

func cloneHandler(h *Handler) Handler {
	c := *h
	if h.Processors != nil {
		c.Processors = append([]ProcessorMapping(nil), h.Processors...)
	}
	return c
}

// Router holds registered handlers and routes content between them.
type Router struct {
	handlers  map[string]*Handler
	mu        sync.RWMutex
	logger    *slog.Logger
	listeners []Listener
}

// New creates an empty router.
func New(logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[string]*Handler),
		logger:   logging.Component(logger, "router"),
	}
}

// AddListener subscribes l to router events.
func (r *Router) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Router) emit(e Event) {
	e.Time = time.Now()
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, l := range listeners {
		l.OnEvent(e)
	}
}

// Register adds or replaces a handler.
func (r *Router) Register(h Handler) error {
	if err := h.validate(); err != nil {
		return err
	}
	stored := cloneHandler(&h)

	r.mu.Lock()
	_, exists := r.handlers[h.Name]
	r.handlers[h.Name] = &stored
	r.mu.Unlock()

	if exists {
		r.logger.Warn("handler overwritten", "handler", h.Name, "role", h.Role)
	} else {
		r.logger.Debug("handler registered", "handler", h.Name, "role", h.Role)
	}
	r.emit(Event{Type: EventHandlerRegistered, Handler: h.Name})
	return nil
}

// Remove deletes a handler. Removing an unknown name is a no-op.
func (r *Router) Remove(name string) {
	r.mu.Lock()
	delete(r.handlers, name)
	r.mu.Unlock()
	r.emit(Event{Type: EventHandlerRemoved, Handler: name})
}

// Get retrieves a handler by name.
func (r *Router) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return Handler{}, false
	}
	return cloneHandler(h), true
}

// List returns all handlers sorted by name.
func (r *Router) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Count returns the number of registered handlers.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// AddProcessor appends a mapping to a registered handler.
func (r *Router) AddProcessor(source string, m ProcessorMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, source)
	}
	h.Processors = append(h.Processors, m)
	return nil
}

// Process routes content produced by source through its processor
// mappings. A []any is processed element by element; the results are
// concatenated. When no mapping accepts the content the result is nil.
func (r *Router) Process(ctx context.Context, source string, content any) ([]any, error) {
	if items, ok := content.([]any); ok {
		var (
			results []any
			errs    []error
		)
		for _, item := range items {
			out, err := r.processOne(ctx, source, item)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, out...)
		}
		return results, errors.Join(errs...)
	}
	return r.processOne(ctx, source, content)
}

func (r *Router) processOne(ctx context.Context, source string, content any) ([]any, error) {
	src, ok := r.Get(source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, source)
	}

	var mapping *ProcessorMapping
	for i := range src.Processors {
		m := src.Processors[i]
		if m.Filter == nil || m.Filter(content) {
			mapping = &m
			break
		}
	}
	if mapping == nil {
		return nil, nil
	}

	start := time.Now()
	r.emit(Event{Type: EventProcessStart, Handler: source, Processor: mapping.ProcessorName})

	out, err := r.Execute(ctx, mapping.ProcessorName, content)
	if err == nil && mapping.Next != "" {
		out, err = r.Execute(ctx, mapping.Next, out)
	}
	if err != nil {
		r.logger.Warn("process failed", "source", source, "processor", mapping.ProcessorName, "error", err)
		r.emit(Event{Type: EventProcessError, Handler: source, Processor: mapping.ProcessorName, Err: err, Duration: time.Since(start)})
		return nil, err
	}

	r.emit(Event{Type: EventProcessComplete, Handler: source, Processor: mapping.ProcessorName, Duration: time.Since(start)})
	return []any{out}, nil
}

// Execute runs the named handler regardless of its role.
func (r *Router) Execute(ctx context.Context, name string, content any) (any, error) {
	h, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return h.run(ctx, content)
}

// Dispatch executes content on the named handler after checking its role.
func (r *Router) Dispatch(ctx context.Context, role Role, name string, content any) (any, error) {
	h, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	if h.Role != role {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrRoleMismatch, name, h.Role, role)
	}
	return h.run(ctx, content)
}

// DispatchToInput executes content on an input handler.
func (r *Router) DispatchToInput(ctx context.Context, name string, content any) (any, error) {
	return r.Dispatch(ctx, RoleInput, name, content)
}

// DispatchToOutput executes content on an output handler.
func (r *Router) DispatchToOutput(ctx context.Context, name string, content any) (any, error) {
	return r.Dispatch(ctx, RoleOutput, name, content)
}

// DispatchToAction executes content on an action handler.
func (r *Router) DispatchToAction(ctx context.Context, name string, content any) (any, error) {
	return r.Dispatch(ctx, RoleAction, name, content)
}

// Subscribe starts every input handler that can push content and feeds
// what they emit into Process. The returned function stops all of them.
func (r *Router) Subscribe(ctx context.Context) (stop func()) {
	r.mu.RLock()
	var inputs []Handler
	for _, h := range r.handlers {
		if h.Role == RoleInput && h.Subscribe != nil {
			inputs = append(inputs, cloneHandler(h))
		}
	}
	r.mu.RUnlock()

	var unsubs []func()
	for _, h := range inputs {
		name := h.Name
		unsub := h.Subscribe(ctx, func(content any) {
			if _, err := r.Process(ctx, name, content); err != nil {
				r.logger.Warn("subscribed content failed", "handler", name, "error", err)
			}
		})
		if unsub != nil {
			unsubs = append(unsubs, unsub)
		}
		r.logger.Info("input handler subscribed", "handler", name)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}
