package think

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrNoHuman is returned by ask_human when nobody can answer.
var ErrNoHuman = errors.New("no human available to answer")

// Asker obtains an answer from a human operator.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, question string) (string, error)

// Ask implements Asker.
func (f AskerFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// PromptAsker asks on a terminal: the question is written to Out and one
// line is read from In.
type PromptAsker struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptAsker creates a terminal asker.
func NewPromptAsker(in io.Reader, out io.Writer) *PromptAsker {
	return &PromptAsker{in: bufio.NewReader(in), out: out}
}

// Ask implements Asker.
func (p *PromptAsker) Ask(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprintf(p.out, "? %s\n> ", question); err != nil {
		return "", err
	}
	type line struct {
		text string
		err  error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := p.in.ReadString('\n')
		ch <- line{text: s, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && !(errors.Is(l.err, io.EOF) && l.text != "") {
			return "", fmt.Errorf("read answer: %w", l.err)
		}
		return strings.TrimSpace(l.text), nil
	}
}

// AskHumanExecutor implements the "ask_human" action kind.
type AskHumanExecutor struct {
	Asker Asker
}

// Execute implements Executor.
func (a AskHumanExecutor) Execute(ctx context.Context, actionType string, payload json.RawMessage) (any, error) {
	var p struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode ask_human payload: %w", err)
	}
	if strings.TrimSpace(p.Question) == "" {
		return nil, fmt.Errorf("ask_human payload has no question")
	}
	if a.Asker == nil {
		return nil, ErrNoHuman
	}
	answer, err := a.Asker.Ask(ctx, p.Question)
	if err != nil {
		return nil, err
	}
	return map[string]string{"question": p.Question, "answer": answer}, nil
}
