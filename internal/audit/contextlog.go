// Package audit mirrors ledger mutations into a durable context log for
// offline review.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fentz26/cortex/internal/ledger"
	"github.com/fentz26/cortex/internal/models"
)

// Sink persists context log entries. *store.Store implements it.
type Sink interface {
	AppendContextLog(ctx context.Context, e models.ContextLogEntry) (models.ContextLogEntry, error)
}

// ContextLogWriter implements ledger.Mirror by writing every mutation to a Sink.
type ContextLogWriter struct {
	sink Sink
}

var _ ledger.Mirror = (*ContextLogWriter)(nil)

// NewContextLogWriter creates a writer backed by sink.
func NewContextLogWriter(sink Sink) *ContextLogWriter {
	return &ContextLogWriter{sink: sink}
}

// Append implements ledger.Mirror.
func (w *ContextLogWriter) Append(ctx context.Context, trigger, op string, step models.Step) error {
	payload, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("encode step: %w", err)
	}
	_, err = w.sink.AppendContextLog(ctx, models.ContextLogEntry{
		Trigger:    trigger,
		Op:         op,
		StepID:     step.ID,
		StepType:   step.Type,
		InputsHash: hashInputs(step.Content, step.Action),
		Payload:    string(payload),
		Timestamp:  step.Timestamp,
	})
	return err
}

// LedgerFor returns a ledger whose mutations are mirrored under trigger.
func (w *ContextLogWriter) LedgerFor(trigger string, opts ...ledger.Option) *ledger.Ledger {
	return ledger.New(append([]ledger.Option{ledger.WithMirror(w, trigger)}, opts...)...)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs ...any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
