package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusRunning         TaskStatus = "running"
	TaskStatusSucceeded       TaskStatus = "succeeded"
	TaskStatusRetryScheduled  TaskStatus = "retry_scheduled"
	TaskStatusDeadLetter      TaskStatus = "dead_letter"
	TaskStatusFailedPermanent TaskStatus = "failed_permanent"
)

// TaskPriority orders due tasks within a claim batch. Higher values are
// claimed first. The zero value is TaskPriorityNormal, so callers that
// never think about priority get the default.
type TaskPriority int

// Possible task priority values
const (
	TaskPriorityLow    TaskPriority = -1
	TaskPriorityNormal TaskPriority = 0
	TaskPriorityHigh   TaskPriority = 1
)

// ErrorClass is the persisted classification of a task's last failure.
// It is what the dead-letter reviewer consults to decide whether a parked
// task is worth re-enqueuing without re-running its handler.
type ErrorClass string

// Possible error class values
const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID           = errors.New("task ID cannot be empty")
	ErrEmptyTaskType         = errors.New("task type cannot be empty")
	ErrInvalidTaskPayload    = errors.New("task payload must be valid JSON")
	ErrInvalidTaskStatus     = errors.New("invalid task status")
	ErrInvalidTaskPriority   = errors.New("invalid task priority")
	ErrInvalidTaskAttempts   = errors.New("task attempts cannot be negative")
	ErrInvalidMaxAttempts    = errors.New("task max attempts must be at least 1")
	ErrAttemptsExceedMax     = errors.New("task attempts cannot exceed max attempts")
	ErrInvalidErrorClass     = errors.New("invalid task error class")
	ErrInvalidTaskTransition = errors.New("invalid task status transition")
)

// Task is one opaque, independently retryable unit of background work.
// The engine schedules and retries it; the meaning of Type and Payload
// belongs entirely to the handler the host application registered.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       TaskPriority    `json:"priority"`
	Status         TaskStatus      `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	LastErrorClass ErrorClass      `json:"last_error_class,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewTask creates a pending Task of the given type. The caller supplies the
// clock so schedulers and tests control time explicitly; scheduledFor is the
// earliest moment the task becomes eligible for claiming (pass now for
// immediate eligibility).
// Returns an error if validation fails.
func NewTask(
	taskType string,
	payload json.RawMessage,
	priority TaskPriority,
	maxAttempts int,
	scheduledFor time.Time,
	now time.Time,
) (*Task, error) {
	task := &Task{
		ID:           uuid.New(),
		Type:         taskType,
		Payload:      payload,
		Priority:     priority,
		Status:       TaskStatusPending,
		Attempts:     0,
		MaxAttempts:  maxAttempts,
		ScheduledFor: scheduledFor.UTC(),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if len(t.Payload) == 0 || !json.Valid(t.Payload) {
		return ErrInvalidTaskPayload
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if !isValidTaskPriority(t.Priority) {
		return ErrInvalidTaskPriority
	}

	if t.Attempts < 0 {
		return ErrInvalidTaskAttempts
	}

	if t.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if t.Attempts > t.MaxAttempts {
		return ErrAttemptsExceedMax
	}

	if t.LastErrorClass != "" && !isValidErrorClass(t.LastErrorClass) {
		return ErrInvalidErrorClass
	}

	return nil
}

// TransitionTo moves the task to the given status, stamping UpdatedAt.
// Returns ErrInvalidTaskTransition when the state machine does not permit
// the move, so illegal transitions surface in tests rather than as silent
// row corruption.
func (t *Task) TransitionTo(status TaskStatus, now time.Time) error {
	if !ValidTaskTransition(t.Status, status) {
		return ErrInvalidTaskTransition
	}

	t.Status = status
	t.UpdatedAt = now.UTC()
	return nil
}

// ValidTaskTransition reports whether the task state machine permits moving
// from one status to another. The switch is exhaustive over TaskStatus.
func ValidTaskTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending, TaskStatusRetryScheduled:
		// Claimed by a dispatcher pass.
		return to == TaskStatusRunning
	case TaskStatusRunning:
		switch to {
		case TaskStatusSucceeded, TaskStatusRetryScheduled,
			TaskStatusDeadLetter, TaskStatusFailedPermanent:
			return true
		case TaskStatusPending:
			// Stuck-task release: an abandoned claim is returned to the queue.
			return true
		default:
			return false
		}
	case TaskStatusDeadLetter:
		// Only the reviewer reopens a parked task.
		return to == TaskStatusPending
	case TaskStatusSucceeded, TaskStatusFailedPermanent:
		return false
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusRetryScheduled, TaskStatusDeadLetter, TaskStatusFailedPermanent:
		return true
	default:
		return false
	}
}

// isValidTaskPriority checks if the given priority is a valid TaskPriority.
func isValidTaskPriority(priority TaskPriority) bool {
	switch priority {
	case TaskPriorityLow, TaskPriorityNormal, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// isValidErrorClass checks if the given class is a valid ErrorClass.
func isValidErrorClass(class ErrorClass) bool {
	switch class {
	case ErrorClassTransient, ErrorClassPermanent:
		return true
	default:
		return false
	}
}
