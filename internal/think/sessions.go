package think

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/cortex/internal/ledger"
	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionRunning    SessionStatus = "running"
	SessionCompleted  SessionStatus = "completed"
	SessionIncomplete SessionStatus = "incomplete"
	SessionTimeout    SessionStatus = "timeout"
	SessionFailed     SessionStatus = "failed"
)

// Session is one think session with the ledger and context it owns.
// It implements Listener to track its own status.
type Session struct {
	ID      string
	Query   string
	Ledger  *ledger.Ledger
	Context *Context

	mu         sync.RWMutex
	status     SessionStatus
	reason     string
	err        string
	startedAt  time.Time
	finishedAt time.Time
}

// SessionInfo is the serializable view of a session.
type SessionInfo struct {
	ID         string        `json:"id"`
	Query      string        `json:"query"`
	Status     SessionStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Steps      int           `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// OnEvent implements Listener.
func (s *Session) OnEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Type {
	case EventComplete:
		s.status = SessionIncomplete
		if e.Completed {
			s.status = SessionCompleted
		}
		s.reason = e.Reason
		if e.Err != nil {
			s.err = e.Err.Error()
		}
	case EventTimeout:
		s.status = SessionTimeout
	case EventError:
		s.status = SessionFailed
		if e.Err != nil {
			s.err = e.Err.Error()
		}
	default:
		return
	}
	s.finishedAt = e.Time
}

// Fail marks the session failed with err unless it already finished.
// Used for outcomes that emit no terminal event.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != SessionRunning {
		return
	}
	s.status = SessionFailed
	s.err = err.Error()
	s.finishedAt = time.Now()
}

// Status returns the current status.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := SessionInfo{
		ID:        s.ID,
		Query:     s.Query,
		Status:    s.status,
		Reason:    s.reason,
		Error:     s.err,
		Steps:     s.Ledger.Len(),
		StartedAt: s.startedAt,
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		info.FinishedAt = &t
	}
	return info
}

// LedgerFactory builds the ledger for a new session.
type LedgerFactory func(sessionID string) *ledger.Ledger

// Sessions is a concurrency-safe registry of think sessions.
type Sessions struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	newLedger LedgerFactory
	// maxSessions caps retained sessions; zero keeps all of them.
	maxSessions int
}

// NewSessions creates an empty registry. A nil factory gives every
// session a plain in-memory ledger.
func NewSessions(newLedger LedgerFactory) *Sessions {
	if newLedger == nil {
		newLedger = func(string) *ledger.Ledger { return ledger.New() }
	}
	return &Sessions{sessions: make(map[string]*Session), newLedger: newLedger}
}

// SetMaxSessions caps the number of retained sessions. When a new session
// exceeds the cap the oldest finished sessions are dropped. Running
// sessions are never dropped.
func (r *Sessions) SetMaxSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSessions = max(n, 0)
	r.evictLocked()
}

// Create registers a new running session for query with its own ledger
// and context. A nil c starts from an empty context.
func (r *Sessions) Create(query string, c *Context) *Session {
	if c == nil {
		c = NewContext("", "", "")
	}
	id := uuid.New().String()
	s := &Session{
		ID:        id,
		Query:     query,
		Ledger:    r.newLedger(id),
		Context:   c,
		status:    SessionRunning,
		startedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.evictLocked()
	r.mu.Unlock()
	return s
}

func (r *Sessions) evictLocked() {
	excess := len(r.sessions) - r.maxSessions
	if r.maxSessions == 0 || excess <= 0 {
		return
	}
	finished := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Status() != SessionRunning {
			finished = append(finished, s)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].startedAt.Before(finished[j].startedAt)
	})
	for _, s := range finished[:min(excess, len(finished))] {
		delete(r.sessions, s.ID)
	}
}

// Run creates a session for query and runs it to the end. Options are
// applied after the session's own ledger, context and listener.
func (r *Sessions) Run(ctx context.Context, client Completer, executors *Executors, query string, maxIterations int, c *Context, opts ...Option) (*Session, error) {
	s := r.Create(query, c)
	base := []Option{WithLedger(s.Ledger), WithContext(s.Context), WithSessionID(s.ID), WithListener(s)}
	engine := NewEngine(client, executors, append(base, opts...)...)
	if err := engine.Think(ctx, query, maxIterations); err != nil {
		s.Fail(err)
		return s, err
	}
	return s, nil
}

// Get returns a session by ID.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns all sessions, newest first.
func (r *Sessions) List() []SessionInfo {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Remove deletes a session. Its durable context log is kept.
func (r *Sessions) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(r.sessions, id)
	return nil
}

// Len returns the number of sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
