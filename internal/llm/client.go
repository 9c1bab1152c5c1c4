// Package llm wraps a single LLM provider call with timeouts, retries with
// backoff, optional rate limiting and structured response parsing.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/cortex/internal/logging"
	"golang.org/x/time/rate"
)

// Request is one prompt sent to a provider.
type Request struct {
	Prompt       string
	SystemPrompt string
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Provider is the boundary to a concrete LLM vendor. Send must honour ctx
// cancellation and be safe to call again with the same request.
type Provider interface {
	Name() string
	Send(ctx context.Context, req Request) (string, error)
}

// Observer receives per-call outcomes, typically for metrics.
type Observer interface {
	ObserveLLMCall(provider string, attempts int, d time.Duration, err error)
}

// Config configures a Client.
type Config struct {
	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Retry          RetryConfig   `yaml:"retry"`
	// RatePerSecond limits outgoing calls; zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
	SystemPrompt  string  `yaml:"system_prompt,omitempty"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 60 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Client performs retried LLM calls against a Provider.
type Client struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter
	observer Observer
	logger   *slog.Logger
}

// NewClient creates a client for provider.
func NewClient(provider Provider, cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	c := &Client{
		provider: provider,
		cfg:      cfg,
		logger:   logging.Component(logger, "llm").With("provider", provider.Name()),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// SetObserver installs an observer for call outcomes.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Complete sends prompt with the configured system prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.send(ctx, Request{Prompt: prompt, SystemPrompt: c.cfg.SystemPrompt})
}

// CompleteWithSystem sends prompt with an explicit system prompt.
func (c *Client) CompleteWithSystem(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return c.send(ctx, Request{Prompt: prompt, SystemPrompt: systemPrompt})
}

func (c *Client) send(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, attempts, err := retry(ctx, c.cfg.Retry, c.logger, func(ctx context.Context) (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		return c.provider.Send(attemptCtx, req)
	})
	if c.observer != nil {
		c.observer.ObserveLLMCall(c.provider.Name(), attempts, time.Since(start), err)
	}
	if err != nil {
		return "", &ProviderError{Provider: c.provider.Name(), Attempts: attempts, Err: err}
	}
	return text, nil
}

// Analysis is the result of Analyze: one of Structured, RawFallback or Text.
type Analysis interface {
	isAnalysis()
}

// Structured holds a response that parsed as JSON.
type Structured struct {
	Value json.RawMessage
}

// RawFallback holds the raw text of a structured request whose response
// could not be parsed as JSON.
type RawFallback struct {
	Text string
	Err  error
}

// Text holds an unstructured response.
type Text struct {
	Text string
}

func (Structured) isAnalysis()  {}
func (RawFallback) isAnalysis() {}
func (Text) isAnalysis()        {}

// Decode unmarshals the structured value into v.
func (s Structured) Decode(v any) error {
	return json.Unmarshal(s.Value, v)
}

// AnalyzeOptions selects the analysis mode.
type AnalyzeOptions struct {
	Structured   bool
	SystemPrompt string
}

const structuredSuffix = "\n\nRespond with a single JSON object only."

// Analyze sends prompt and interprets the response. In structured mode the
// response is parsed as JSON; a parse failure yields RawFallback instead of
// an error.
func (c *Client) Analyze(ctx context.Context, prompt string, opts AnalyzeOptions) (Analysis, error) {
	system := opts.SystemPrompt
	if system == "" {
		system = c.cfg.SystemPrompt
	}
	req := Request{Prompt: prompt, SystemPrompt: system}
	if opts.Structured {
		req.Prompt = strings.TrimRight(prompt, "\n") + structuredSuffix
		req.JSON = true
	}

	text, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if !opts.Structured {
		return Text{Text: text}, nil
	}

	raw, err := ExtractJSON(text)
	if err != nil {
		c.logger.Debug("structured response fell back to raw text", "error", err)
		return RawFallback{Text: text, Err: err}, nil
	}
	return Structured{Value: raw}, nil
}
