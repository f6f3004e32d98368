package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
		{
			name:     "wrapped generic error",
			err:      fmt.Errorf("failed to do something: %w", errors.New("some error")),
			expected: false,
		},
		{
			name:     "ErrNotFound",
			err:      ErrNotFound,
			expected: true,
		},
		{
			name:     "wrapped ErrNotFound",
			err:      fmt.Errorf("failed to do something: %w", ErrNotFound),
			expected: true,
		},
		{
			name:     "ErrTaskNotFound",
			err:      ErrTaskNotFound,
			expected: true,
		},
		{
			name:     "wrapped ErrTaskNotFound",
			err:      fmt.Errorf("failed to load task: %w", ErrTaskNotFound),
			expected: true,
		},
		{
			name:     "ErrWorkflowNotFound",
			err:      ErrWorkflowNotFound,
			expected: true,
		},
		{
			name:     "update conflict is not a not-found",
			err:      ErrUpdateConflict,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFoundError(tt.err); got != tt.expected {
				t.Errorf("IsNotFoundError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
		{
			name:     "ErrDuplicate",
			err:      ErrDuplicate,
			expected: true,
		},
		{
			name:     "wrapped ErrDuplicate",
			err:      fmt.Errorf("failed to create: %w", ErrDuplicate),
			expected: true,
		},
		{
			name:     "ErrTaskExists",
			err:      ErrTaskExists,
			expected: true,
		},
		{
			name:     "wrapped ErrWorkflowExists",
			err:      fmt.Errorf("failed to create workflow: %w", ErrWorkflowExists),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateError(tt.err); got != tt.expected {
				t.Errorf("IsDuplicateError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsUpdateConflictError(t *testing.T) {
	if !IsUpdateConflictError(fmt.Errorf("claim race: %w", ErrUpdateConflict)) {
		t.Error("IsUpdateConflictError() should match wrapped ErrUpdateConflict")
	}
	if IsUpdateConflictError(ErrUpdateFailed) {
		t.Error("IsUpdateConflictError() must not match plain update failures")
	}
}

func TestStoreError(t *testing.T) {
	originalErr := errors.New("database connection failed")
	storeErr := NewStoreError("task", "claim", "database error", originalErr)

	expectedErrorString := "claim operation on task failed: database error: database connection failed"
	if got := storeErr.Error(); got != expectedErrorString {
		t.Errorf("StoreError.Error() = %v, want %v", got, expectedErrorString)
	}

	if got := storeErr.Unwrap(); !errors.Is(got, originalErr) {
		t.Errorf("StoreError.Unwrap() not returning original error")
	}

	if !errors.Is(storeErr, originalErr) {
		t.Errorf("errors.Is() not recognizing the wrapped error")
	}
}

func TestStoreErrorWithoutCause(t *testing.T) {
	storeErr := NewStoreError("workflow", "activate", "no pending step", nil)

	expected := "activate operation on workflow failed: no pending step"
	if got := storeErr.Error(); got != expected {
		t.Errorf("StoreError.Error() = %v, want %v", got, expected)
	}
	if storeErr.Unwrap() != nil {
		t.Error("StoreError.Unwrap() should be nil when no cause was wrapped")
	}
}
