package think

import "errors"

var (
	// ErrPlanningFailed is returned when no valid plan was produced within the retry budget.
	ErrPlanningFailed = errors.New("planning failed")
	// ErrVerificationParse is returned when a verification response cannot be parsed.
	// It ends the session without a completion event.
	ErrVerificationParse = errors.New("verification response could not be parsed")
	// ErrActionValidation is returned for an action without type or payload.
	ErrActionValidation = errors.New("invalid action")
	// ErrActionExecution wraps an executor failure.
	ErrActionExecution = errors.New("action execution failed")
	// ErrNoExecutor is returned when no executor handles an action kind.
	ErrNoExecutor = errors.New("no executor for action kind")
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSnapshotRange is returned when rolling back to a missing snapshot.
	ErrSnapshotRange = errors.New("snapshot index out of range")
)
