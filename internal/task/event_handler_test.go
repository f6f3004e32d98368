package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/events"
)

func TestEnqueueEventHandler_HandleEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newHandler := func(t *testing.T, s *MockTaskStore) *EnqueueEventHandler {
		t.Helper()
		registry := NewRegistry()
		require.NoError(t, registry.Register(TaskTypeReportGeneration, func(ctx context.Context, payload json.RawMessage) error {
			return nil
		}))
		handler := NewEnqueueEventHandler(s, registry, DefaultRetryPolicy(), testLogger())
		handler.now = func() time.Time { return now }
		return handler
	}

	t.Run("enqueues task with engine defaults", func(t *testing.T) {
		mockStore := NewMockTaskStore()
		handler := newHandler(t, mockStore)

		event, err := events.NewTaskRequestEvent(TaskTypeReportGeneration,
			map[string]string{"report_id": "monthly-revenue"})
		require.NoError(t, err)

		require.NoError(t, handler.HandleEvent(context.Background(), event))

		got := mockStore.Snapshot(event.ID)
		require.NotNil(t, got, "The event ID doubles as the task ID")
		assert.Equal(t, TaskTypeReportGeneration, got.Type)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Equal(t, domain.TaskPriorityNormal, got.Priority)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Equal(t, now, got.ScheduledFor, "No hint means due immediately")
		assert.JSONEq(t, `{"report_id":"monthly-revenue"}`, string(got.Payload))
	})

	t.Run("honors scheduling hints", func(t *testing.T) {
		mockStore := NewMockTaskStore()
		handler := newHandler(t, mockStore)

		later := now.Add(4 * time.Hour)
		event, err := events.NewTaskRequestEvent(TaskTypeReportGeneration,
			map[string]string{"report_id": "quarterly"})
		require.NoError(t, err)
		event.Priority = int(domain.TaskPriorityHigh)
		event.MaxAttempts = 5
		event.ScheduledFor = &later

		require.NoError(t, handler.HandleEvent(context.Background(), event))

		got := mockStore.Snapshot(event.ID)
		require.NotNil(t, got)
		assert.Equal(t, domain.TaskPriorityHigh, got.Priority)
		assert.Equal(t, 5, got.MaxAttempts)
		assert.Equal(t, later, got.ScheduledFor)
	})

	t.Run("redelivered event is a no-op", func(t *testing.T) {
		mockStore := NewMockTaskStore()
		handler := newHandler(t, mockStore)

		event, err := events.NewTaskRequestEvent(TaskTypeReportGeneration,
			map[string]string{"report_id": "monthly-revenue"})
		require.NoError(t, err)

		require.NoError(t, handler.HandleEvent(context.Background(), event))
		require.NoError(t, handler.HandleEvent(context.Background(), event),
			"Redelivery must succeed without enqueueing twice")

		counts, err := mockStore.CountByStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, counts[domain.TaskStatusPending])
	})

	t.Run("rejects unregistered task type", func(t *testing.T) {
		mockStore := NewMockTaskStore()
		handler := newHandler(t, mockStore)

		event, err := events.NewTaskRequestEvent("retired_task_type",
			map[string]string{"key": "value"})
		require.NoError(t, err)

		err = handler.HandleEvent(context.Background(), event)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoHandler)
		assert.Nil(t, mockStore.Snapshot(event.ID))
	})

	t.Run("rejects invalid task request", func(t *testing.T) {
		mockStore := NewMockTaskStore()
		handler := newHandler(t, mockStore)

		event, err := events.NewTaskRequestEvent(TaskTypeReportGeneration,
			map[string]string{"report_id": "monthly-revenue"})
		require.NoError(t, err)
		event.Payload = nil

		err = handler.HandleEvent(context.Background(), event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid task request")
		assert.Nil(t, mockStore.Snapshot(event.ID))
	})
}
