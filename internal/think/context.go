package think

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// HistoryEntry records one executed action and its result.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
}

// State is an immutable copy of a session's chain-of-thought context.
type State struct {
	WorldState       string         `json:"world_state"`
	QueriesAvailable string         `json:"queries_available"`
	AvailableActions string         `json:"available_actions"`
	ActionHistory    []HistoryEntry `json:"action_history"`
	TakenAt          time.Time      `json:"taken_at"`
}

func (s State) clone() State {
	c := s
	c.ActionHistory = make([]HistoryEntry, len(s.ActionHistory))
	for i, h := range s.ActionHistory {
		h.Action.Payload = append(json.RawMessage(nil), h.Action.Payload...)
		c.ActionHistory[i] = h
	}
	return c
}

// Context is the chain-of-thought context owned by one session. Action
// history is append-only; every append retains a snapshot that can be
// restored with Rollback.
type Context struct {
	mu        sync.RWMutex
	state     State
	snapshots []State
	now       func() time.Time
}

// NewContext creates a context with the given descriptive fields.
func NewContext(worldState, queriesAvailable, availableActions string) *Context {
	return &Context{
		state: State{
			WorldState:       worldState,
			QueriesAvailable: queriesAvailable,
			AvailableActions: availableActions,
		},
		now: time.Now,
	}
}

// SetWorldState replaces the world state description.
func (c *Context) SetWorldState(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.WorldState = s
}

// SetAvailableActions replaces the available actions description.
func (c *Context) SetAvailableActions(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AvailableActions = s
}

// SetQueriesAvailable replaces the available queries description.
func (c *Context) SetQueriesAvailable(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.QueriesAvailable = s
}

// Record appends an executed action to the history and retains a snapshot.
func (c *Context) Record(action Action, result string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := HistoryEntry{
		Timestamp: c.now(),
		Action:    Action{Type: action.Type, Payload: append(json.RawMessage(nil), action.Payload...)},
		Result:    result,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.state.ActionHistory = append(c.state.ActionHistory, entry)
	c.snapshotLocked()
}

// Snapshot retains and returns a copy of the current state.
func (c *Context) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Context) snapshotLocked() State {
	s := c.state.clone()
	s.TakenAt = c.now()
	c.snapshots = append(c.snapshots, s)
	return s.clone()
}

// State returns a copy of the current state without retaining it.
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Snapshots returns every retained snapshot, oldest first.
func (c *Context) Snapshots() []State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]State, len(c.snapshots))
	for i, s := range c.snapshots {
		out[i] = s.clone()
	}
	return out
}

// Rollback restores snapshot i and discards the snapshots taken after it.
func (c *Context) Rollback(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.snapshots) {
		return fmt.Errorf("%w: %d of %d", ErrSnapshotRange, i, len(c.snapshots))
	}
	c.state = c.snapshots[i].clone()
	c.snapshots = c.snapshots[:i+1]
	return nil
}
