package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/think"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu    sync.Mutex
	goals []models.Goal
	posts map[string]map[string]any
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{posts: make(map[string]map[string]any)}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /goals", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		writeJSON(w, http.StatusOK, api.goals)
	})
	mux.HandleFunc("POST /goals", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		defer api.mu.Unlock()
		api.posts["/goals"] = body
		g := models.Goal{ID: "goal-0001-abcdef", Description: body["description"].(string), Status: models.GoalPending}
		api.goals = append(api.goals, g)
		writeJSON(w, http.StatusCreated, g)
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []think.SessionInfo{{ID: "sess-1", Query: "check disk", Status: think.SessionCompleted, Steps: 2}})
	})
	mux.HandleFunc("GET /sessions/sess-1/steps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []models.Step{
			{ID: "a", Type: models.StepTask, Content: "check disk", Timestamp: time.Now()},
			{ID: "b", Type: models.StepAction, Content: "df -h ran", Timestamp: time.Now()},
		})
	})
	mux.HandleFunc("POST /think", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"session": think.SessionInfo{ID: "sess-2-xxxxxxxx", Status: think.SessionFailed, Steps: 3},
			"error":   "verification failed",
		})
	})
	mux.HandleFunc("GET /scheduler/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"active": 0, "max_concurrent": 4})
	})
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "handler is required"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func key(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func TestClientListsGoals(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.goals = []models.Goal{{ID: "g1", Description: "ship it", Status: models.GoalActive}}

	goals, err := NewClient(srv.URL).ListGoals()
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "ship it", goals[0].Description)
}

func TestClientSurfacesAPIError(t *testing.T) {
	_, srv := newFakeAPI(t)
	_, err := NewClient(srv.URL).Schedule("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler is required")
}

func TestGoalCommandCreatesGoal(t *testing.T) {
	api, srv := newFakeAPI(t)
	app := New(srv.URL)

	msg := app.executeCommand("/goal write the docs")()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok, "got %T", msg)
	assert.Contains(t, res.message, "Created goal: goal-000")
	assert.Equal(t, "write the docs", api.posts["/goals"]["description"])
	assert.Equal(t, "short", api.posts["/goals"]["horizon"])

	app.Update(goalsLoadedMsg{goals: api.goals})
	assert.Contains(t, app.View(), "write the docs")
}

func TestThinkCommandReportsFailedSession(t *testing.T) {
	_, srv := newFakeAPI(t)
	app := New(srv.URL)

	msg := app.executeCommand("think is the disk full")()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok, "got %T", msg)
	assert.Contains(t, res.message, "sess-2-x failed after 3 steps")
}

func TestCommandUsageAndUnknown(t *testing.T) {
	app := New("http://127.0.0.1:0")
	assert.Equal(t, commandResultMsg{"Usage: think <query>"}, app.executeCommand("/think")())
	assert.Equal(t, switchViewMsg{viewTasks}, app.executeCommand("tasks")())

	res := app.executeCommand("frobnicate")().(commandResultMsg)
	assert.Contains(t, res.message, "Unknown: frobnicate")
	assert.Nil(t, app.executeCommand("   "))
}

func TestScheduleRejectsBadJSON(t *testing.T) {
	app := New("http://127.0.0.1:0")
	msg := app.executeCommand("schedule think {not json")()
	e, ok := msg.(errMsg)
	require.True(t, ok, "got %T", msg)
	assert.Contains(t, e.err.Error(), "not valid JSON")
}

func TestTabCyclesViews(t *testing.T) {
	app := New("http://127.0.0.1:0")
	assert.Equal(t, viewGoals, app.view)

	app.Update(key(tea.KeyTab))
	assert.Equal(t, viewTasks, app.view)
	app.Update(key(tea.KeyTab))
	assert.Equal(t, viewSessions, app.view)
	app.Update(key(tea.KeyTab))
	assert.Equal(t, viewGoals, app.view)
}

func TestOpenSessionShowsSteps(t *testing.T) {
	_, srv := newFakeAPI(t)
	app := New(srv.URL)
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	app.Update(switchViewMsg{viewSessions})

	sessions, err := app.client.ListSessions()
	require.NoError(t, err)
	app.Update(sessionsLoadedMsg{sessions})
	assert.Contains(t, app.View(), "check disk")

	_, cmd := app.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Equal(t, viewSession, app.view)

	app.Update(cmd())
	view := app.View()
	assert.Contains(t, view, "df -h ran")
	assert.Contains(t, view, "sess-1")

	app.Update(key(tea.KeyEsc))
	assert.Equal(t, viewSessions, app.view)
	assert.Nil(t, app.current)
}

func TestSelectionStaysInRange(t *testing.T) {
	app := New("http://127.0.0.1:0")
	app.Update(goalsLoadedMsg{goals: []models.Goal{{ID: "a"}, {ID: "b"}}})

	app.Update(key(tea.KeyDown))
	app.Update(key(tea.KeyDown))
	assert.Equal(t, 1, app.selectedIdx)

	app.Update(goalsLoadedMsg{goals: []models.Goal{{ID: "a"}}})
	assert.Equal(t, 0, app.selectedIdx)

	app.Update(key(tea.KeyUp))
	assert.Equal(t, 0, app.selectedIdx)
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("think")
	assert.False(t, s.IsVisible())

	s.Update("/")
	assert.True(t, s.IsVisible())
	assert.Len(t, s.filtered, len(commandSuggestions))

	s.Update("/re")
	require.True(t, s.IsVisible())
	assert.Equal(t, "remember", s.Selected().Text)
	s.Next()
	assert.Equal(t, "recall", s.Selected().Text)
	s.Next()
	assert.Equal(t, "remember", s.Selected().Text)
	s.Prev()
	assert.Equal(t, "recall", s.Selected().Text)

	s.Update("/think now")
	assert.False(t, s.IsVisible())
	assert.Nil(t, s.Selected())

	s.Update("/zzz")
	assert.False(t, s.IsVisible())
}

func TestAcceptSuggestionFillsInput(t *testing.T) {
	app := New("http://127.0.0.1:0")
	app.input.SetValue("/thi")
	app.suggestions.Update("/thi")

	app.Update(key(tea.KeyTab))
	assert.Equal(t, "/think ", app.input.Value())
	assert.Equal(t, viewGoals, app.view)
}
