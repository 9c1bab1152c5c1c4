package goals

import (
	"testing"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(logging.Discard())
}

func mustAdd(t *testing.T, m *Manager, spec Spec) models.Goal {
	t.Helper()
	g, err := m.Add(spec)
	require.NoError(t, err)
	return g
}

func ids(goals []models.Goal) []string {
	out := make([]string, len(goals))
	for i, g := range goals {
		out[i] = g.ID
	}
	return out
}

func TestAddAssignsIDAndPending(t *testing.T) {
	m := newTestManager(t)
	g := mustAdd(t, m, Spec{Horizon: models.HorizonLong, Description: "ship v1", Priority: 5})

	assert.NotEmpty(t, g.ID)
	assert.Equal(t, models.GoalPending, g.Status)
	assert.False(t, g.CreatedAt.IsZero())
	assert.Nil(t, g.CompletedAt)
}

func TestAddValidation(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Add(Spec{Description: "  "})
	assert.ErrorIs(t, err, ErrInvalidGoal)

	_, err = m.Add(Spec{Description: "x", Horizon: "decade"})
	assert.ErrorIs(t, err, ErrInvalidGoal)

	_, err = m.Add(Spec{Description: "x", ParentGoal: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadyRequiresAllDependenciesCompleted(t *testing.T) {
	m := newTestManager(t)
	a := mustAdd(t, m, Spec{Description: "a"})
	b := mustAdd(t, m, Spec{Description: "b"})
	g := mustAdd(t, m, Spec{Description: "g", Dependencies: []string{a.ID, b.ID}})

	assert.NotContains(t, ids(m.Ready()), g.ID)

	complete(t, m, a.ID)
	assert.NotContains(t, ids(m.Ready()), g.ID)

	blocking, err := m.Blocking(g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, blocking)

	view, err := m.View(g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GoalBlocked, view)

	_, err = m.UpdateStatus(b.ID, models.GoalActive)
	require.NoError(t, err)
	assert.NotContains(t, ids(m.Ready()), g.ID)

	_, err = m.UpdateStatus(b.ID, models.GoalCompleted)
	require.NoError(t, err)
	assert.Contains(t, ids(m.Ready()), g.ID)

	view, _ = m.View(g.ID)
	assert.Equal(t, models.GoalReady, view)
}

func TestNoDependenciesIsTriviallyReady(t *testing.T) {
	m := newTestManager(t)
	g := mustAdd(t, m, Spec{Description: "solo"})
	assert.Equal(t, []string{g.ID}, ids(m.Ready()))
}

func TestUnknownDependencyBlocks(t *testing.T) {
	m := newTestManager(t)
	g := mustAdd(t, m, Spec{Description: "g", Dependencies: []string{"ghost"}})
	assert.Empty(t, m.Ready())
	blocking, err := m.Blocking(g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, blocking)

	blocked, err := m.IsBlocked(g.ID)
	require.NoError(t, err)
	assert.True(t, blocked)
	_, err = m.IsBlocked("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListsSortedByPriority(t *testing.T) {
	m := newTestManager(t)
	for _, p := range []int{3, 9, 1, 9, 5} {
		mustAdd(t, m, Spec{Description: "p", Priority: p, Horizon: models.HorizonMedium})
	}
	short := mustAdd(t, m, Spec{Description: "s", Priority: 100, Horizon: models.HorizonShort})

	pending := m.Pending(models.HorizonMedium)
	require.Len(t, pending, 5)
	for i := 1; i < len(pending); i++ {
		assert.GreaterOrEqual(t, pending[i-1].Priority, pending[i].Priority)
	}
	assert.NotContains(t, ids(pending), short.ID)
	assert.Len(t, m.Pending(), 6)

	for _, g := range m.Pending() {
		_, err := m.UpdateStatus(g.ID, models.GoalActive)
		require.NoError(t, err)
	}
	active := m.Active()
	require.Len(t, active, 6)
	assert.Equal(t, short.ID, active[0].ID)
	for i := 1; i < len(active); i++ {
		assert.GreaterOrEqual(t, active[i-1].Priority, active[i].Priority)
	}
}

func TestCompletedAtSetOnce(t *testing.T) {
	m := newTestManager(t)
	g := mustAdd(t, m, Spec{Description: "g"})

	_, err := m.UpdateStatus(g.ID, models.GoalActive)
	require.NoError(t, err)
	done, err := m.UpdateStatus(g.ID, models.GoalCompleted)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	first := *done.CompletedAt

	again, err := m.UpdateStatus(g.ID, models.GoalCompleted)
	require.NoError(t, err)
	assert.Equal(t, first, *again.CompletedAt)
}

func TestUpdateStatusErrors(t *testing.T) {
	m := newTestManager(t)
	g := mustAdd(t, m, Spec{Description: "g"})

	_, err := m.UpdateStatus("missing", models.GoalActive)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.UpdateStatus(g.ID, models.GoalReady)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.UpdateStatus(g.ID, models.GoalCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	complete(t, m, g.ID)
	_, err = m.UpdateStatus(g.ID, models.GoalActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBlockedGoalCannotStart(t *testing.T) {
	m := newTestManager(t)
	a := mustAdd(t, m, Spec{Description: "a"})
	b := mustAdd(t, m, Spec{Description: "b", Dependencies: []string{a.ID}})
	c := mustAdd(t, m, Spec{Description: "c", Dependencies: []string{"ghost"}})

	_, err := m.UpdateStatus(b.ID, models.GoalActive)
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = m.UpdateStatus(b.ID, models.GoalCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.UpdateStatus(c.ID, models.GoalActive)
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = m.UpdateStatus(c.ID, models.GoalCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := m.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GoalPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = m.UpdateStatus(a.ID, models.GoalActive)
	require.NoError(t, err)
	_, err = m.UpdateStatus(b.ID, models.GoalActive)
	assert.ErrorIs(t, err, ErrBlocked, "an active dependency still blocks")

	_, err = m.UpdateStatus(a.ID, models.GoalCompleted)
	require.NoError(t, err)
	_, err = m.UpdateStatus(b.ID, models.GoalActive)
	require.NoError(t, err)

	// a blocked goal may still be abandoned
	failed, err := m.UpdateStatus(c.ID, models.GoalFailed)
	require.NoError(t, err)
	assert.Equal(t, models.GoalFailed, failed.Status)
}

func complete(t *testing.T, m *Manager, id string) {
	t.Helper()
	_, err := m.UpdateStatus(id, models.GoalActive)
	require.NoError(t, err)
	_, err = m.UpdateStatus(id, models.GoalCompleted)
	require.NoError(t, err)
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	m := newTestManager(t)
	a := mustAdd(t, m, Spec{Description: "a"})
	b := mustAdd(t, m, Spec{Description: "b", Dependencies: []string{a.ID}})
	c := mustAdd(t, m, Spec{Description: "c", Dependencies: []string{b.ID}})

	err := m.AddDependency(a.ID, c.ID)
	assert.ErrorIs(t, err, ErrCycle)

	err = m.AddDependency(a.ID, a.ID)
	assert.ErrorIs(t, err, ErrCycle)

	got, _ := m.Get(a.ID)
	assert.Empty(t, got.Dependencies)
	assert.Empty(t, m.DetectCycles())
}

// Imported data bypasses Add validation; a cycle there leaves both goals
// permanently unready and must be reported.
func TestDetectCyclesOnImportedGraph(t *testing.T) {
	m := newTestManager(t)
	m.Import([]models.Goal{
		{ID: "a", Description: "a", Status: models.GoalPending, Dependencies: []string{"b"}},
		{ID: "b", Description: "b", Status: models.GoalPending, Dependencies: []string{"a"}},
		{ID: "c", Description: "c", Status: models.GoalPending},
	})

	cycles := m.DetectCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, cycles[0])
	assert.Equal(t, []string{"c"}, ids(m.Ready()))
}

func TestSubgoalsAndRemoveDoesNotCascade(t *testing.T) {
	m := newTestManager(t)
	parent := mustAdd(t, m, Spec{Description: "parent", Horizon: models.HorizonLong})
	child := mustAdd(t, m, Spec{Description: "child", ParentGoal: parent.ID})

	children, err := m.Children(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, ids(children))

	require.NoError(t, m.Remove(parent.ID))
	got, err := m.Get(child.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ParentGoal)
	assert.ErrorIs(t, m.Remove(parent.ID), ErrNotFound)
}

func TestExportImportRoundTrip(t *testing.T) {
	m := newTestManager(t)
	a := mustAdd(t, m, Spec{Description: "a", Priority: 2})
	mustAdd(t, m, Spec{Description: "b", Dependencies: []string{a.ID}})

	other := newTestManager(t)
	other.Import(m.Export())
	assert.Equal(t, m.All(), other.All())
}
