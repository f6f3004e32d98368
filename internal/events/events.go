package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskRequestEvent represents a request to enqueue a background task.
// It carries everything task creation needs without a direct dependency
// on the task package. The event ID doubles as the created task's ID, so
// redelivering an event can never enqueue the same work twice.
type TaskRequestEvent struct {
	// ID is a unique identifier for this event and for the task it creates.
	ID uuid.UUID `json:"id"`

	// Type indicates the task type that should be enqueued.
	Type string `json:"type"`

	// Payload contains the task-specific data serialized as JSON.
	Payload json.RawMessage `json:"payload"`

	// Priority orders the task against other due work. Zero means the
	// emitter left it to the engine's default.
	Priority int `json:"priority,omitempty"`

	// MaxAttempts overrides the engine's default attempt budget when
	// positive.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// ScheduledFor defers the task's first run when set.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskRequestEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewTaskRequestEvent creates a TaskRequestEvent for the given task type.
// The payload is serialized to JSON; scheduling hints can be set on the
// returned event before emitting it.
func NewTaskRequestEvent(taskType string, payload interface{}) (*TaskRequestEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &TaskRequestEvent{
		ID:        uuid.New(),
		Type:      taskType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
