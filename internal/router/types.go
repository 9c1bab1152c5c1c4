// Package router dispatches typed content between input, output and action
// handlers and follows their processor mappings.
package router

import (
	"context"
	"fmt"
)

// Role is the kind of a handler.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
	RoleAction Role = "action"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleInput || r == RoleOutput || r == RoleAction
}

// ExecuteFunc performs a handler's work on content.
type ExecuteFunc func(ctx context.Context, content any) (any, error)

// SubscribeFunc starts pushing content through emit until the returned
// function is called or ctx ends.
type SubscribeFunc func(ctx context.Context, emit func(content any)) (unsubscribe func())

// Filter decides whether a processor mapping accepts content.
type Filter func(content any) bool

// ProcessorMapping routes content produced by a handler to a processor,
// optionally followed by one more handler.
type ProcessorMapping struct {
	ProcessorName string `json:"processor" yaml:"processor"`
	Next          string `json:"next,omitempty" yaml:"next,omitempty"`
	// Filter may be nil, in which case the mapping always matches.
	Filter Filter `json:"-" yaml:"-"`
}

// Handler is a named unit that consumes or produces content.
type Handler struct {
	Name       string
	Role       Role
	Schema     Validator
	Execute    ExecuteFunc
	Subscribe  SubscribeFunc
	Processors []ProcessorMapping
}

// Info is the serializable view of a handler.
type Info struct {
	Name       string             `json:"name"`
	Role       Role               `json:"role"`
	Processors []ProcessorMapping `json:"processors,omitempty"`
	Subscribes bool               `json:"subscribes"`
}

func (h Handler) info() Info {
	return Info{
		Name:       h.Name,
		Role:       h.Role,
		Processors: append([]ProcessorMapping(nil), h.Processors...),
		Subscribes: h.Subscribe != nil,
	}
}

func (h Handler) validate() error {
	if h.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidHandler)
	}
	if !h.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidHandler, h.Role)
	}
	if h.Execute == nil {
		return fmt.Errorf("%w: %s has no execute function", ErrInvalidHandler, h.Name)
	}
	return nil
}

func (h Handler) run(ctx context.Context, content any) (any, error) {
	if h.Schema != nil {
		if err := h.Schema.Validate(content); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchema, h.Name, err)
		}
	}
	return h.Execute(ctx, content)
}
