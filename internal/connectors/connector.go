// Package connectors defines how cortex reaches the local machine from
// inside a think session.
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Connector defines the interface for executing commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}

// ExecPayload is the payload of an "exec" action.
type ExecPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ActionExecutor exposes a Connector as the "exec" action kind of the
// think loop.
type ActionExecutor struct {
	Connector Connector
	// FailOnNonZero turns a non-zero exit code into an error.
	FailOnNonZero bool
}

// Execute decodes an ExecPayload and runs it through the connector.
func (a ActionExecutor) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	var p ExecPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode exec payload: %w", err)
	}
	p.Command = strings.TrimSpace(p.Command)
	if p.Command == "" {
		return nil, fmt.Errorf("exec payload has no command")
	}

	res, err := a.Connector.Execute(ctx, p.Command, p.Args)
	if err != nil {
		return nil, err
	}
	if a.FailOnNonZero && res.ExitCode != 0 {
		return res, fmt.Errorf("%s exited with code %d: %s", p.Command, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}
