package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Task type identifiers for the built-in Glint workloads.
const (
	// TaskTypeReportGeneration renders a business report from collected data.
	TaskTypeReportGeneration = "report_generation"

	// TaskTypeDataExport pulls raw figures from a connected source.
	TaskTypeDataExport = "data_export"

	// TaskTypeEmailDelivery sends a finished report to its recipients.
	TaskTypeEmailDelivery = "email_delivery"
)

// Handler executes one attempt of a task. The payload is the task's stored
// JSON document. A nil return completes the task; an error return is
// classified via Transient/Permanent wrapping, with unwrapped errors
// defaulting to transient.
//
// Handlers must be idempotent: a crashed pass can leave an attempt half
// applied, and the stuck-task sweep will hand the task out again.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps task types to their handlers. Registration happens during
// startup wiring; lookups happen on every dispatched task.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task type. Registering the same type twice
// is a wiring bug and returns ErrHandlerRegistered.
func (r *Registry) Register(taskType string, handler Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q cannot be nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, taskType)
	}

	r.handlers[taskType] = handler
	return nil
}

// Resolve returns the handler for a task type, or false if none is registered.
func (r *Registry) Resolve(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	return handler, ok
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	sort.Strings(types)
	return types
}
