package think

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Known action kinds.
const (
	ActionFetch    = "fetch"
	ActionExec     = "exec"
	ActionAskHuman = "ask_human"
	ActionHandler  = "handler"
	ActionRecall   = "recall"
	ActionRemember = "remember"
)

// Action is one planned external effect. The payload is opaque to the
// engine and decoded by the executor registered for Type.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks that the action has a type and a payload.
func (a Action) Validate() error {
	if strings.TrimSpace(a.Type) == "" {
		return fmt.Errorf("%w: missing type", ErrActionValidation)
	}
	p := bytes.TrimSpace(a.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return fmt.Errorf("%w: %s action has no payload", ErrActionValidation, a.Type)
	}
	return nil
}

// Plan is the structured planning response.
type Plan struct {
	Plan    string   `json:"plan"`
	Actions []Action `json:"actions"`
}

// Verification is the structured verification response.
type Verification struct {
	Complete       bool     `json:"complete"`
	Reason         string   `json:"reason"`
	ShouldContinue bool     `json:"shouldContinue"`
	NewActions     []Action `json:"-"`
}

type rawPlan struct {
	Plan    *string           `json:"plan"`
	Actions []json.RawMessage `json:"actions"`
}

type rawVerification struct {
	Complete       *bool             `json:"complete"`
	Reason         string            `json:"reason"`
	ShouldContinue bool              `json:"shouldContinue"`
	NewActions     []json.RawMessage `json:"newActions"`
}

func decodePlan(raw json.RawMessage) (Plan, error) {
	var rp rawPlan
	if err := json.Unmarshal(raw, &rp); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if rp.Plan == nil {
		return Plan{}, fmt.Errorf("plan field is missing")
	}
	if rp.Actions == nil {
		return Plan{}, fmt.Errorf("actions field is missing")
	}
	actions, err := decodeActions(rp.Actions)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Plan: *rp.Plan, Actions: actions}, nil
}

func decodeVerification(raw json.RawMessage) (Verification, error) {
	var rv rawVerification
	if err := json.Unmarshal(raw, &rv); err != nil {
		return Verification{}, fmt.Errorf("decode verification: %w", err)
	}
	if rv.Complete == nil {
		return Verification{}, fmt.Errorf("complete field is missing")
	}
	actions, err := decodeActions(rv.NewActions)
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		Complete:       *rv.Complete,
		Reason:         rv.Reason,
		ShouldContinue: rv.ShouldContinue,
		NewActions:     actions,
	}, nil
}

// decodeActions accepts bare actions and plans carrying actions, and
// flattens both into one ordered list.
func decodeActions(items []json.RawMessage) ([]Action, error) {
	out := make([]Action, 0, len(items))
	for i, item := range items {
		var probe struct {
			Actions []json.RawMessage `json:"actions"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		if probe.Actions != nil {
			nested, err := decodeActions(probe.Actions)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		var a Action
		if err := json.Unmarshal(item, &a); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
