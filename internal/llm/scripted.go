package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a ScriptedProvider has no replies left.
var ErrScriptExhausted = errors.New("scripted provider: no replies left")

// Reply is one scripted provider outcome.
type Reply struct {
	Text string
	Err  error
}

// ScriptedProvider replays a fixed sequence of replies. It is used for
// offline runs and tests.
type ScriptedProvider struct {
	mu       sync.Mutex
	replies  []Reply
	requests []Request
	// Repeat keeps returning the last reply once the script is spent.
	Repeat bool
}

// NewScriptedProvider creates a provider that returns texts in order.
func NewScriptedProvider(texts ...string) *ScriptedProvider {
	p := &ScriptedProvider{}
	for _, t := range texts {
		p.replies = append(p.replies, Reply{Text: t})
	}
	return p
}

// Push appends replies to the script.
func (p *ScriptedProvider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Name implements Provider.
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Send implements Provider.
func (p *ScriptedProvider) Send(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return "", ErrScriptExhausted
	}
	r := p.replies[0]
	if len(p.replies) > 1 || !p.Repeat {
		p.replies = p.replies[1:]
	}
	return r.Text, r.Err
}

// Requests returns every request received so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}
