package goals

import "errors"

// Sentinel errors for goal operations.
var (
	ErrNotFound          = errors.New("goal not found")
	ErrCycle             = errors.New("goal dependencies form a cycle")
	ErrInvalidTransition = errors.New("invalid goal status transition")
	ErrBlocked           = errors.New("goal has unfinished dependencies")
	ErrInvalidGoal       = errors.New("invalid goal")
)
