package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fentz26/cortex/internal/connectors"
	"github.com/fentz26/cortex/internal/memory"
	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/think"
)

// Built-in handler names.
const (
	handlerThink    = "think"
	handlerExec     = "exec"
	handlerLog      = "log"
	handlerRemember = "remember"
)

type builtins struct {
	logger    *slog.Logger
	connector connectors.Connector
	memory    memory.Memory
	think     func(ctx context.Context, query string, maxIterations int) (*think.Session, error)
}

// thinkTask is the content of a scheduled think run.
type thinkTask struct {
	Query         string `json:"query"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// thinkResult is what the think handler hands to its processors.
type thinkResult struct {
	SessionID string              `json:"session_id"`
	Query     string              `json:"query"`
	Status    think.SessionStatus `json:"status"`
	Steps     int                 `json:"steps"`
}

// registerBuiltins registers the handlers every cortex runtime offers:
// think and exec actions, and log and remember outputs.
func registerBuiltins(r *router.Router, b builtins) error {
	handlers := []router.Handler{
		{
			Name:   handlerThink,
			Role:   router.RoleAction,
			Schema: router.Fields{"query": router.KindString},
			Execute: func(ctx context.Context, content any) (any, error) {
				var task thinkTask
				if err := decodeContent(content, &task); err != nil {
					return nil, err
				}
				s, err := b.think(ctx, task.Query, task.MaxIterations)
				if s == nil {
					return nil, err
				}
				res := thinkResult{SessionID: s.ID, Query: task.Query, Status: s.Status(), Steps: s.Ledger.Len()}
				return res, err
			},
		},
		{
			Name:   handlerExec,
			Role:   router.RoleAction,
			Schema: router.Fields{"command": router.KindString},
			Execute: func(ctx context.Context, content any) (any, error) {
				var p connectors.ExecPayload
				if err := decodeContent(content, &p); err != nil {
					return nil, err
				}
				return b.connector.Execute(ctx, p.Command, p.Args)
			},
		},
		{
			Name: handlerLog,
			Role: router.RoleOutput,
			Execute: func(ctx context.Context, content any) (any, error) {
				b.logger.Info("handler output", "content", content)
				return nil, nil
			},
		},
		{
			Name: handlerRemember,
			Role: router.RoleOutput,
			Execute: func(ctx context.Context, content any) (any, error) {
				text, meta, err := memoryContent(content)
				if err != nil {
					return nil, err
				}
				id, err := b.memory.Store(ctx, text, meta)
				if err != nil {
					return nil, err
				}
				return map[string]string{"id": id}, nil
			},
		},
	}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// decodeContent converts router content into v through its JSON form.
func decodeContent(content any, v any) error {
	var data []byte
	switch c := content.(type) {
	case json.RawMessage:
		data = c
	case []byte:
		data = c
	case string:
		data = []byte(c)
	default:
		b, err := json.Marshal(content)
		if err != nil {
			return fmt.Errorf("encode content: %w", err)
		}
		data = b
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	return nil
}

// memoryContent extracts the text to remember. Plain strings are stored
// as is; anything else is stored as its JSON encoding unless it carries
// a content field.
func memoryContent(content any) (string, map[string]string, error) {
	if s, ok := content.(string); ok {
		return s, nil, nil
	}
	var p memory.RememberPayload
	if err := decodeContent(content, &p); err == nil && p.Content != "" {
		return p.Content, p.Meta, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", nil, fmt.Errorf("encode content: %w", err)
	}
	return string(data), map[string]string{"source": "handler"}, nil
}
