package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		RequestTimeout: time.Second,
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
	}
}

type recordingObserver struct {
	calls    int
	attempts int
	err      error
}

func (o *recordingObserver) ObserveLLMCall(provider string, attempts int, d time.Duration, err error) {
	o.calls++
	o.attempts = attempts
	o.err = err
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("wrapped: %w", ErrTransient), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"408", &StatusError{StatusCode: 408}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"rate limit text", errors.New("Rate limit reached"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"bad request", errors.New("invalid prompt"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0.5}
	for attempt := 0; attempt < 12; attempt++ {
		d := backoff(attempt, cfg)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
	cfg.JitterFactor = 0
	assert.Equal(t, 100*time.Millisecond, backoff(0, cfg))
	assert.Equal(t, 400*time.Millisecond, backoff(2, cfg))
	assert.Equal(t, time.Second, backoff(10, cfg))
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	p := &ScriptedProvider{}
	p.Push(
		Reply{Err: &StatusError{StatusCode: 503, Body: "overloaded"}},
		Reply{Err: fmt.Errorf("dial: %w", ErrTransient)},
		Reply{Text: "hello"},
	)
	obs := &recordingObserver{}
	c := NewClient(p, fastConfig(), logging.Discard())
	c.SetObserver(obs)

	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Len(t, p.Requests(), 3)
	assert.Equal(t, 1, obs.calls)
	assert.Equal(t, 3, obs.attempts)
}

func TestCompleteStopsOnPermanentError(t *testing.T) {
	p := &ScriptedProvider{}
	p.Push(Reply{Err: &StatusError{StatusCode: 401, Body: "bad key"}}, Reply{Text: "never"})
	c := NewClient(p, fastConfig(), logging.Discard())

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "scripted", perr.Provider)
	assert.Equal(t, 1, perr.Attempts)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 401, serr.StatusCode)
	assert.Len(t, p.Requests(), 1)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	p := &ScriptedProvider{Repeat: true}
	p.Push(Reply{Err: &StatusError{StatusCode: 429}})
	c := NewClient(p, fastConfig(), logging.Discard())

	_, err := c.Complete(context.Background(), "hi")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 4, perr.Attempts)
	assert.Len(t, p.Requests(), 4)
}

func TestCompleteHonoursCancellation(t *testing.T) {
	p := NewScriptedProvider("unused")
	c := NewClient(p, fastConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Requests())
}

func TestCompleteWithSystemPrompt(t *testing.T) {
	p := NewScriptedProvider("ok", "ok")
	cfg := fastConfig()
	cfg.SystemPrompt = "be brief"
	c := NewClient(p, cfg, logging.Discard())

	_, err := c.Complete(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.CompleteWithSystem(context.Background(), "b", "be verbose")
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "be brief", reqs[0].SystemPrompt)
	assert.Equal(t, "be verbose", reqs[1].SystemPrompt)
}

func TestAnalyzeStructured(t *testing.T) {
	p := NewScriptedProvider("Sure!\n```json\n{\"plan\": \"do it\"}\n```\nanything else?")
	c := NewClient(p, fastConfig(), logging.Discard())

	res, err := c.Analyze(context.Background(), "plan", AnalyzeOptions{Structured: true})
	require.NoError(t, err)
	s, ok := res.(Structured)
	require.True(t, ok, "got %T", res)

	var out struct {
		Plan string `json:"plan"`
	}
	require.NoError(t, s.Decode(&out))
	assert.Equal(t, "do it", out.Plan)
	assert.True(t, p.Requests()[0].JSON)
}

func TestAnalyzeStructuredFallsBackToRawText(t *testing.T) {
	p := NewScriptedProvider("I cannot answer that.")
	c := NewClient(p, fastConfig(), logging.Discard())

	res, err := c.Analyze(context.Background(), "plan", AnalyzeOptions{Structured: true})
	require.NoError(t, err)
	fb, ok := res.(RawFallback)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "I cannot answer that.", fb.Text)
}

func TestAnalyzeText(t *testing.T) {
	p := NewScriptedProvider("{\"not\": \"parsed\"}")
	c := NewClient(p, fastConfig(), logging.Discard())

	res, err := c.Analyze(context.Background(), "q", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, Text{Text: "{\"not\": \"parsed\"}"}, res)
}

func TestExtractJSON(t *testing.T) {
	raw, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(raw))

	raw, err = ExtractJSON("Here you go: {\"a\": {\"b\": [1, 2]}} hope that helps")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": {"b": [1, 2]}}`, string(raw))

	raw, err = ExtractJSON("```\n[1, 2, 3]\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 2, 3]`, string(raw))

	raw, err = ExtractJSON(`{"a": 1, "b": 2,}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1, "b": 2}`, string(raw))

	_, err = ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ExtractJSON("   ")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseJSON(t *testing.T) {
	var v struct {
		Done bool `json:"done"`
	}
	require.NoError(t, ParseJSON("```json\n{\"done\": true}\n```", &v))
	assert.True(t, v.Done)
}

func TestOpenAIProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}
		assert.Equal(t, "json_object", req.ResponseFormat["type"])

		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "test-model"}, srv.Client())
	c := NewClient(p, fastConfig(), logging.Discard())

	res, err := c.Analyze(context.Background(), "status?", AnalyzeOptions{Structured: true, SystemPrompt: "sys"})
	require.NoError(t, err)
	s, ok := res.(Structured)
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(s.Value))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProviderPermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	_, err := p.Send(context.Background(), Request{Prompt: "x"})
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.False(t, IsTransient(err))
}
