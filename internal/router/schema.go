package router

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Validator checks content before a handler executes it.
type Validator interface {
	Validate(content any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(content any) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(content any) error {
	return f(content)
}

// Fields is a minimal object schema: every listed field must be present
// and, when a kind is given, hold a value of that JSON kind.
type Fields map[string]Kind

// Kind is a JSON value kind.
type Kind string

const (
	KindAny    Kind = ""
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
)

// Validate implements Validator. Content may be a map, a struct or raw JSON.
func (f Fields) Validate(content any) error {
	obj, err := asObject(content)
	if err != nil {
		return err
	}
	for name, kind := range f {
		v, ok := obj[name]
		if !ok {
			return fmt.Errorf("missing field %q", name)
		}
		if kind != KindAny && kindOf(v) != kind {
			return fmt.Errorf("field %q must be %s, got %s", name, kind, kindOf(v))
		}
	}
	return nil
}

func asObject(content any) (map[string]any, error) {
	switch v := content.(type) {
	case map[string]any:
		return v, nil
	case nil:
		return nil, fmt.Errorf("content is empty")
	}

	var data []byte
	switch v := content.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		if k := reflect.Indirect(reflect.ValueOf(content)).Kind(); k != reflect.Struct && k != reflect.Map {
			return nil, fmt.Errorf("content must be an object, got %T", content)
		}
		b, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}
		data = b
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("content must be a json object: %w", err)
	}
	return obj, nil
}

func kindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case float64, int, int64, json.Number:
		return KindNumber
	case bool:
		return KindBool
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	}
	return "null"
}
