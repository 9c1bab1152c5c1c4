package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fentz26/cortex/internal/ledger"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMutationsAreMirrored(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	w := NewContextLogWriter(s)
	l := w.LedgerFor("session-1", ledger.WithLogger(logging.Discard()))

	step := l.Add("look around", models.StepTask, nil, nil)
	_, err = l.Insert(0, "be careful", nil, nil)
	require.NoError(t, err)
	content := "look around carefully"
	_, err = l.Update(step.ID, ledger.StepPatch{Content: &content})
	require.NoError(t, err)
	require.NoError(t, l.Remove(step.ID))

	entries, err := s.ContextLog(context.Background(), "session-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	ops := make([]string, len(entries))
	for i, e := range entries {
		ops[i] = e.Op
	}
	assert.Equal(t, []string{ledger.OpAdd, ledger.OpInsert, ledger.OpUpdate, ledger.OpRemove}, ops)
	assert.Equal(t, step.ID, entries[0].StepID)
	assert.Equal(t, models.StepSystem, entries[1].StepType)
	assert.Len(t, entries[0].InputsHash, 64)
	assert.NotEqual(t, entries[0].InputsHash, entries[2].InputsHash)
	assert.Contains(t, entries[2].Payload, "look around carefully")
}

func TestHashInputsIsStable(t *testing.T) {
	assert.Equal(t, hashInputs("a", 1), hashInputs("a", 1))
	assert.NotEqual(t, hashInputs("a", 1), hashInputs("a", 2))
}
