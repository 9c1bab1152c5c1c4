package router

import "errors"

var (
	// ErrHandlerNotFound is returned when no handler is registered under a name.
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrRoleMismatch is returned when a dispatch targets a handler of another role.
	ErrRoleMismatch = errors.New("handler role mismatch")
	// ErrSchema is returned when content fails a handler's schema.
	ErrSchema = errors.New("content does not match handler schema")
	// ErrInvalidHandler is returned when registering an incomplete handler.
	ErrInvalidHandler = errors.New("invalid handler")
)
