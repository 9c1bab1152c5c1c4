package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when a response holds no JSON value.
var ErrNoJSON = errors.New("no json found in response")

// ExtractJSON pulls the JSON object or array out of an LLM response.
// Markdown fences and surrounding prose are stripped; malformed JSON is
// repaired when possible.
func ExtractJSON(text string) (json.RawMessage, error) {
	candidate := strings.TrimSpace(stripFences(text))
	if candidate == "" {
		return nil, ErrNoJSON
	}
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	if inner := outermost(candidate); inner != "" {
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
		candidate = inner
	} else if !strings.ContainsAny(candidate, "{[") {
		return nil, ErrNoJSON
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("repair json: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("repair json: result is not valid json")
	}
	return json.RawMessage(repaired), nil
}

// ParseJSON extracts JSON from text and unmarshals it into v.
func ParseJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lang := strings.TrimSpace(rest[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// outermost returns the span from the first '{' or '[' to its last matching
// closer, or "" if none.
func outermost(text string) string {
	open := strings.IndexAny(text, "{[")
	if open < 0 {
		return ""
	}
	closer := byte('}')
	if text[open] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= open {
		return text[open:]
	}
	return text[open : end+1]
}
