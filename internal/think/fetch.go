package think

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetchPayload is the payload of a "fetch" action.
type FetchPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// FetchResult is returned by FetchExecutor.
type FetchResult struct {
	Status int `json:"status"`
	// Data holds the decoded body when it is JSON, otherwise the text.
	Data any `json:"data"`
}

// FetchExecutor performs structured HTTP data fetches.
type FetchExecutor struct {
	Client  *http.Client
	MaxBody int64
}

// NewFetchExecutor creates a fetch executor with the given per-request timeout.
func NewFetchExecutor(timeout time.Duration) *FetchExecutor {
	return &FetchExecutor{
		Client:  &http.Client{Timeout: timeout},
		MaxBody: 1 << 20,
	}
}

// Execute implements Executor.
func (f *FetchExecutor) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	var p FetchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode fetch payload: %w", err)
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("fetch: invalid url %q", p.URL)
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(p.Body) > 0 {
		body = bytes.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	limit := f.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read fetch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}

	result := FetchResult{Status: resp.StatusCode, Data: string(data)}
	var decoded any
	if json.Unmarshal(data, &decoded) == nil {
		result.Data = decoded
	}
	return result, nil
}
