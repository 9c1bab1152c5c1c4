package think

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorsRegistry(t *testing.T) {
	r := NewExecutors()
	r.Register("b", ExecutorFunc(func(ctx context.Context, kind string, p json.RawMessage) (any, error) {
		return kind, nil
	}))
	r.Register("a", AskHumanExecutor{})
	assert.Equal(t, []string{"a", "b"}, r.Kinds())

	out, err := r.Execute(context.Background(), Action{Type: "b", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "b", out)

	_, err = r.Execute(context.Background(), Action{Type: "zzz", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrNoExecutor)
}

func TestFetchExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"price": 42}`))
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetchExecutor(5 * time.Second)

	out, err := f.Execute(context.Background(), ActionFetch, json.RawMessage(`{"url":"`+srv.URL+`/price","headers":{"X-Test":"yes"}}`))
	require.NoError(t, err)
	res := out.(FetchResult)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, map[string]any{"price": float64(42)}, res.Data)

	out, err = f.Execute(context.Background(), ActionFetch, json.RawMessage(`{"url":"`+srv.URL+`/echo","method":"post","body":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out.(FetchResult).Data)

	_, err = f.Execute(context.Background(), ActionFetch, json.RawMessage(`{"url":"`+srv.URL+`/missing"}`))
	assert.ErrorContains(t, err, "status 404")

	_, err = f.Execute(context.Background(), ActionFetch, json.RawMessage(`{"url":"file:///etc/passwd"}`))
	assert.ErrorContains(t, err, "invalid url")
}

func TestAskHumanExecutor(t *testing.T) {
	var out strings.Builder
	a := AskHumanExecutor{Asker: NewPromptAsker(strings.NewReader("blue\n"), &out)}

	res, err := a.Execute(context.Background(), ActionAskHuman, json.RawMessage(`{"question":"favourite colour?"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"question": "favourite colour?", "answer": "blue"}, res)
	assert.Contains(t, out.String(), "favourite colour?")

	_, err = AskHumanExecutor{}.Execute(context.Background(), ActionAskHuman, json.RawMessage(`{"question":"anyone?"}`))
	assert.ErrorIs(t, err, ErrNoHuman)

	_, err = a.Execute(context.Background(), ActionAskHuman, json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestHandlerExecutorDispatchesToActionHandlers(t *testing.T) {
	r := router.New(logging.Discard())
	require.NoError(t, r.Register(router.Handler{
		Name: "sum",
		Role: router.RoleAction,
		Execute: func(ctx context.Context, content any) (any, error) {
			m := content.(map[string]any)
			return m["a"].(float64) + m["b"].(float64), nil
		},
	}))
	require.NoError(t, r.Register(router.Handler{
		Name:    "log",
		Role:    router.RoleOutput,
		Execute: func(ctx context.Context, content any) (any, error) { return nil, nil },
	}))
	h := HandlerExecutor{Router: r}

	out, err := h.Execute(context.Background(), ActionHandler, json.RawMessage(`{"name":"sum","data":{"a":2,"b":3}}`))
	require.NoError(t, err)
	assert.Equal(t, float64(5), out)

	_, err = h.Execute(context.Background(), ActionHandler, json.RawMessage(`{"name":"log","data":{}}`))
	assert.ErrorIs(t, err, router.ErrRoleMismatch)
}
