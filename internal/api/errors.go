package api

import (
	"errors"
	"net/http"

	"github.com/glintlabs/glint-api/internal/api/shared"
	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/service/auth"
	"github.com/glintlabs/glint-api/internal/store"
	"github.com/glintlabs/glint-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrMissingSecret),
		errors.Is(err, auth.ErrInvalidSecret):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrUpdateConflict),
		errors.Is(err, domain.ErrInvalidWorkflowTransition):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, task.ErrNoHandler):
		return http.StatusBadRequest

	// Default: internal server error. An orchestration error escaping a
	// pass lands here so the external scheduler sees the invocation fail.
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrMissingSecret):
		return "Trigger secret required"

	case errors.Is(err, auth.ErrInvalidSecret):
		return "Invalid trigger secret"

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrWorkflowNotFound):
		return "Workflow not found"

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate):
		return "Entity already exists"

	case errors.Is(err, store.ErrUpdateConflict),
		errors.Is(err, domain.ErrInvalidWorkflowTransition):
		return "Conflicting concurrent update"

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation):
		return "Invalid entity data"

	case errors.Is(err, task.ErrNoHandler):
		return "Unknown task type"

	// Pass failures
	case task.IsOrchestrationError(err):
		return "Pass failed before completing"

	// Default case for unknown errors
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes a sanitized error response for err, deriving the
// status code and safe message from the error type. An empty userMessage
// falls back to the safe message for the error; the full error is logged
// but never sent to the client.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, userMessage string) {
	status := MapErrorToStatusCode(err)
	if userMessage == "" {
		userMessage = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, userMessage, err)
}
