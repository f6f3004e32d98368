package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/service/auth"
	"github.com/glintlabs/glint-api/internal/store"
	"github.com/glintlabs/glint-api/internal/task"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{
			name:           "nil error",
			err:            nil,
			expectedStatus: http.StatusInternalServerError, // Default to 500 for nil error
		},
		{
			name:           "missing trigger secret",
			err:            auth.ErrMissingSecret,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrapped invalid secret",
			err:            fmt.Errorf("failed to authenticate: %w", auth.ErrInvalidSecret),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "task not found",
			err:            store.ErrTaskNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "workflow not found",
			err:            fmt.Errorf("failed to load workflow: %w", store.ErrWorkflowNotFound),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "duplicate task",
			err:            store.ErrTaskExists,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "update conflict",
			err:            fmt.Errorf("%w: task is running", store.ErrUpdateConflict),
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "invalid workflow transition",
			err:            fmt.Errorf("%w: cannot cancel a completed workflow", domain.ErrInvalidWorkflowTransition),
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "invalid entity",
			err:            store.ErrInvalidEntity,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unregistered task type",
			err:            fmt.Errorf("%w: report_generation", task.ErrNoHandler),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "orchestration error",
			err:            task.NewOrchestrationError("dispatch", "claim_due", errors.New("connection refused")),
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "unknown error",
			err:            errors.New("unknown error"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := MapErrorToStatusCode(tt.err)
			assert.Equal(t, tt.expectedStatus, status)
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		expectedMessage string
	}{
		{
			name:            "nil error",
			err:             nil,
			expectedMessage: "An unexpected error occurred",
		},
		{
			name:            "missing trigger secret",
			err:             auth.ErrMissingSecret,
			expectedMessage: "Trigger secret required",
		},
		{
			name:            "wrapped invalid secret",
			err:             fmt.Errorf("failed due to: %w", auth.ErrInvalidSecret),
			expectedMessage: "Invalid trigger secret",
		},
		{
			name:            "task not found",
			err:             store.ErrTaskNotFound,
			expectedMessage: "Task not found",
		},
		{
			name:            "workflow not found",
			err:             store.ErrWorkflowNotFound,
			expectedMessage: "Workflow not found",
		},
		{
			name:            "update conflict",
			err:             fmt.Errorf("%w: workflow moved on", store.ErrUpdateConflict),
			expectedMessage: "Conflicting concurrent update",
		},
		{
			name:            "unregistered task type",
			err:             fmt.Errorf("%w: report_generation", task.ErrNoHandler),
			expectedMessage: "Unknown task type",
		},
		{
			name:            "orchestration error hides internals",
			err:             task.NewOrchestrationError("review", "list_dead_letter", errors.New("pq: relation does not exist")),
			expectedMessage: "Pass failed before completing",
		},
		{
			name:            "unknown error",
			err:             errors.New("contains secret dsn"),
			expectedMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message := GetSafeErrorMessage(tt.err)
			assert.Equal(t, tt.expectedMessage, message)
			if tt.err != nil {
				assert.NotContains(t, message, tt.err.Error())
			}
		})
	}
}
