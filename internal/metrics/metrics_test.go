package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/think"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveLLMCall(t *testing.T) {
	m := New()
	m.ObserveLLMCall("openai", 3, 2*time.Second, nil)
	m.ObserveLLMCall("openai", 1, time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("openai", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("openai", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.llmAttempts.WithLabelValues("openai")))
}

func TestThinkListener(t *testing.T) {
	m := New()
	l := m.ThinkListener()

	l.OnEvent(think.Event{Type: think.EventStart})
	l.OnEvent(think.Event{Type: think.EventStep})
	l.OnEvent(think.Event{Type: think.EventStep})
	l.OnEvent(think.Event{Type: think.EventActionComplete, Action: &think.Action{Type: "fetch"}})
	l.OnEvent(think.Event{Type: think.EventActionError, Action: &think.Action{Type: "fetch"}, Err: errors.New("x")})
	l.OnEvent(think.Event{Type: think.EventComplete, Completed: true, Iteration: 2})
	l.OnEvent(think.Event{Type: think.EventTimeout, Iteration: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.thinkSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.thinkActions.WithLabelValues("fetch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.thinkActions.WithLabelValues("fetch", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.thinkSessions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.thinkSessions.WithLabelValues("timeout")))
}

func TestRouterListener(t *testing.T) {
	m := New()
	r := router.New(nil)
	r.AddListener(m.RouterListener())

	require.NoError(t, r.Register(router.Handler{Name: "a", Role: router.RoleAction, Execute: func(ctx context.Context, content any) (any, error) { return content, nil }}))
	require.NoError(t, r.Register(router.Handler{Name: "b", Role: router.RoleAction, Execute: func(ctx context.Context, content any) (any, error) { return content, nil }}))
	r.Remove("b")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routerHandlers))

	l := m.RouterListener()
	l.OnEvent(router.Event{Type: router.EventProcessComplete, Handler: "a", Duration: time.Millisecond})
	l.OnEvent(router.Event{Type: router.EventProcessError, Handler: "a", Err: errors.New("x")})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routerProcessed.WithLabelValues("a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routerProcessed.WithLabelValues("a", "error")))
}

func TestSchedulerObserver(t *testing.T) {
	m := New()
	m.ObserveTask("ping", time.Millisecond, nil)
	m.ObserveTask("ping", time.Millisecond, errors.New("x"))
	m.ObservePoll(2, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksExecuted.WithLabelValues("ping", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksExecuted.WithLabelValues("ping", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pollDue))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.ObserveTask("ping", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `cortex_scheduler_tasks_total{handler="ping",status="ok"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
