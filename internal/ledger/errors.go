package ledger

import "errors"

// Sentinel errors for ledger operations.
var (
	ErrNotFound   = errors.New("step not found")
	ErrOutOfRange = errors.New("step index out of range")
)
