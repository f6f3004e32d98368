package task

import (
	"errors"
	"fmt"

	"github.com/glintlabs/glint-api/internal/domain"
)

// Task registration errors
var (
	// ErrNoHandler indicates no handler is registered for a task type.
	// The dispatcher treats it as a permanent failure: retrying cannot
	// conjure a handler into existence.
	ErrNoHandler = errors.New("no handler registered for task type")

	// ErrHandlerRegistered indicates a duplicate handler registration.
	ErrHandlerRegistered = errors.New("handler already registered for task type")
)

// TransientError wraps a failure that is expected to clear on its own,
// such as a timeout or an upstream outage. The dispatcher schedules a
// retry for it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError wraps a failure that no amount of retrying can fix,
// such as a validation error or a deleted resource. The dispatcher
// fails the task after a single attempt.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent marks err as not retryable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Classify determines the error class of a handler failure by walking the
// wrap chain. An explicit permanent marker wins; anything unmarked is
// treated as transient so flaky infrastructure gets the benefit of a retry.
func Classify(err error) domain.ErrorClass {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return domain.ErrorClassPermanent
	}
	return domain.ErrorClassTransient
}

// OrchestrationError reports a failure of the pass machinery itself, as
// opposed to a failure of the task being processed. Store errors during
// claiming or result recording surface as orchestration errors; handler
// errors never do.
type OrchestrationError struct {
	// Pass names the pass that failed: dispatch, review, workflows, maintenance.
	Pass string

	// Operation names the step within the pass that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s pass failed during %s: %v", e.Pass, e.Operation, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NewOrchestrationError creates an OrchestrationError for the given pass
// and operation.
func NewOrchestrationError(pass, operation string, err error) *OrchestrationError {
	return &OrchestrationError{
		Pass:      pass,
		Operation: operation,
		Err:       err,
	}
}

// IsOrchestrationError reports whether err is or wraps an OrchestrationError.
func IsOrchestrationError(err error) bool {
	var orchErr *OrchestrationError
	return errors.As(err, &orchErr)
}
