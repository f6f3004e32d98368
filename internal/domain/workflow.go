package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the lifecycle state of a workflow
type WorkflowStatus string

// Possible workflow status values
const (
	WorkflowStatusScheduled WorkflowStatus = "scheduled"
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusStalled   WorkflowStatus = "stalled"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Common validation errors for Workflow
var (
	ErrEmptyWorkflowID           = errors.New("workflow ID cannot be empty")
	ErrEmptyWorkflowName         = errors.New("workflow name cannot be empty")
	ErrEmptyWorkflowSteps        = errors.New("workflow must have at least one step")
	ErrEmptyWorkflowStepName     = errors.New("workflow step name cannot be empty")
	ErrInvalidWorkflowStatus     = errors.New("invalid workflow status")
	ErrInvalidWorkflowStepIndex  = errors.New("workflow step index out of range")
	ErrInvalidWorkflowActivateAt = errors.New("workflow activate time cannot be zero")
	ErrInvalidWorkflowTransition = errors.New("invalid workflow status transition")
)

// TaskSpec describes a task a workflow step will enqueue when the step
// becomes current. It is a template, not a task: ids and timestamps are
// assigned at fan-out.
type TaskSpec struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    TaskPriority    `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

// Validate checks if the TaskSpec has valid data.
func (s *TaskSpec) Validate() error {
	if s.Type == "" {
		return ErrEmptyTaskType
	}

	if len(s.Payload) == 0 || !json.Valid(s.Payload) {
		return ErrInvalidTaskPayload
	}

	if !isValidTaskPriority(s.Priority) {
		return ErrInvalidTaskPriority
	}

	if s.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	return nil
}

// WorkflowStep is one rung of a workflow: a name, the task specs to fan out
// when the step starts, and the ids of the tasks actually created. A step
// with no specs is a marker step and completes immediately.
type WorkflowStep struct {
	Name    string      `json:"name"`
	Tasks   []TaskSpec  `json:"tasks,omitempty"`
	TaskIDs []uuid.UUID `json:"task_ids,omitempty"`
}

// Validate checks if the WorkflowStep has valid data.
func (s *WorkflowStep) Validate() error {
	if s.Name == "" {
		return ErrEmptyWorkflowStepName
	}

	for i := range s.Tasks {
		if err := s.Tasks[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Workflow is an ordered progression of steps, each backed by zero or more
// tasks. The advancer owns its lifecycle; all retry behavior lives with the
// underlying tasks, never here.
type Workflow struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	Status           WorkflowStatus `json:"status"`
	Steps            []WorkflowStep `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	ActivateAt       time.Time      `json:"activate_at"`
	LastProgressAt   time.Time      `json:"last_progress_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewWorkflow creates a scheduled Workflow that becomes eligible for
// activation at activateAt. LastProgressAt starts at the creation time so
// staleness is always measured against a real timestamp.
// Returns an error if validation fails.
func NewWorkflow(
	name string,
	steps []WorkflowStep,
	activateAt time.Time,
	now time.Time,
) (*Workflow, error) {
	workflow := &Workflow{
		ID:               uuid.New(),
		Name:             name,
		Status:           WorkflowStatusScheduled,
		Steps:            steps,
		CurrentStepIndex: 0,
		ActivateAt:       activateAt.UTC(),
		LastProgressAt:   now.UTC(),
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}

	if err := workflow.Validate(); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Validate checks if the Workflow has valid data.
// Returns an error if any field fails validation.
func (w *Workflow) Validate() error {
	if w.ID == uuid.Nil {
		return ErrEmptyWorkflowID
	}

	if w.Name == "" {
		return ErrEmptyWorkflowName
	}

	if len(w.Steps) == 0 {
		return ErrEmptyWorkflowSteps
	}

	for i := range w.Steps {
		if err := w.Steps[i].Validate(); err != nil {
			return err
		}
	}

	if !isValidWorkflowStatus(w.Status) {
		return ErrInvalidWorkflowStatus
	}

	if w.CurrentStepIndex < 0 || w.CurrentStepIndex > len(w.Steps) {
		return ErrInvalidWorkflowStepIndex
	}

	if w.ActivateAt.IsZero() {
		return ErrInvalidWorkflowActivateAt
	}

	return nil
}

// CurrentStep returns the step the workflow is currently on. The second
// return is false once the index has moved past the last step.
func (w *Workflow) CurrentStep() (*WorkflowStep, bool) {
	if w.CurrentStepIndex >= len(w.Steps) {
		return nil, false
	}
	return &w.Steps[w.CurrentStepIndex], true
}

// TransitionTo moves the workflow to the given status, stamping UpdatedAt.
// Returns ErrInvalidWorkflowTransition when the state machine does not
// permit the move.
func (w *Workflow) TransitionTo(status WorkflowStatus, now time.Time) error {
	if !ValidWorkflowTransition(w.Status, status) {
		return ErrInvalidWorkflowTransition
	}

	w.Status = status
	w.UpdatedAt = now.UTC()
	return nil
}

// ValidWorkflowTransition reports whether the workflow state machine permits
// moving from one status to another. The switch is exhaustive over
// WorkflowStatus.
func ValidWorkflowTransition(from, to WorkflowStatus) bool {
	switch from {
	case WorkflowStatusScheduled:
		return to == WorkflowStatusActive || to == WorkflowStatusCancelled
	case WorkflowStatusActive:
		switch to {
		case WorkflowStatusCompleted, WorkflowStatusStalled, WorkflowStatusCancelled:
			return true
		default:
			return false
		}
	case WorkflowStatusStalled:
		// An operator resumes or cancels; the advancer never touches a
		// stalled workflow on its own.
		return to == WorkflowStatusActive || to == WorkflowStatusCancelled
	case WorkflowStatusCompleted, WorkflowStatusCancelled:
		return false
	default:
		return false
	}
}

// isValidWorkflowStatus checks if the given status is a valid WorkflowStatus.
func isValidWorkflowStatus(status WorkflowStatus) bool {
	switch status {
	case WorkflowStatusScheduled, WorkflowStatusActive, WorkflowStatusCompleted,
		WorkflowStatusStalled, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}
