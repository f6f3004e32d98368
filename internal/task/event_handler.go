package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/events"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/store"
)

// EnqueueEventHandler implements the events.EventHandler interface by
// turning TaskRequestEvents into stored tasks. It lets business features
// request background work by emitting an event instead of depending on
// the scheduling engine directly.
//
// The event's ID becomes the task's ID, so a redelivered event hits the
// store's duplicate check and enqueueing stays idempotent.
type EnqueueEventHandler struct {
	store    store.TaskStore
	registry *Registry
	policy   RetryPolicy
	logger   *slog.Logger

	// now stamps created tasks. Overridden in tests.
	now func() time.Time
}

// NewEnqueueEventHandler creates an event handler that enqueues tasks
// through the given store. The registry guards against enqueueing types
// nothing can ever execute.
func NewEnqueueEventHandler(
	taskStore store.TaskStore,
	registry *Registry,
	policy RetryPolicy,
	log *slog.Logger,
) *EnqueueEventHandler {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &EnqueueEventHandler{
		store:    taskStore,
		registry: registry,
		policy:   policy,
		logger:   log.With(slog.String("component", "enqueue_event_handler")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent validates the event against the handler registry, builds a
// task from it and enqueues it. A duplicate event is a no-op success.
func (h *EnqueueEventHandler) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	log := logger.FromContextOrDefault(ctx, h.logger).With(
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.Type),
	)

	if _, ok := h.registry.Resolve(event.Type); !ok {
		log.Error("event requests unregistered task type")
		return fmt.Errorf("%w: %s", ErrNoHandler, event.Type)
	}

	now := h.now()

	maxAttempts := event.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = h.policy.MaxAttempts()
	}

	scheduledFor := now
	if event.ScheduledFor != nil {
		scheduledFor = event.ScheduledFor.UTC()
	}

	newTask, err := domain.NewTask(
		event.Type,
		event.Payload,
		domain.TaskPriority(event.Priority),
		maxAttempts,
		scheduledFor,
		now,
	)
	if err != nil {
		log.Error("event carries an invalid task request",
			slog.String("error", err.Error()))
		return fmt.Errorf("invalid task request: %w", err)
	}
	newTask.ID = event.ID

	if err := h.store.Enqueue(ctx, newTask); err != nil {
		if errors.Is(err, store.ErrTaskExists) {
			log.Debug("event already enqueued, skipping")
			return nil
		}
		log.Error("failed to enqueue task from event",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info("task enqueued from event",
		slog.String("task_id", newTask.ID.String()),
		slog.Time("scheduled_for", scheduledFor))
	return nil
}

// Ensure EnqueueEventHandler implements events.EventHandler
var _ events.EventHandler = (*EnqueueEventHandler)(nil)
