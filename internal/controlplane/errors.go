package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/cortex/internal/goals"
	"github.com/fentz26/cortex/internal/memory"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/store"
	"github.com/fentz26/cortex/internal/think"
)

// Sentinel errors for control plane operations.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrUnavailable = errors.New("feature not configured")
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, goals.ErrInvalidGoal),
		errors.Is(err, memory.ErrEmptyContent):
		return http.StatusBadRequest
	case errors.Is(err, goals.ErrNotFound),
		errors.Is(err, think.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, goals.ErrCycle),
		errors.Is(err, goals.ErrInvalidTransition),
		errors.Is(err, goals.ErrBlocked),
		errors.Is(err, scheduler.ErrPollInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
