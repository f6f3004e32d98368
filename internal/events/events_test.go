package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskRequestEvent(t *testing.T) {
	type reportRequest struct {
		ReportID uuid.UUID `json:"report_id"`
		Period   string    `json:"period"`
	}

	payload := reportRequest{
		ReportID: uuid.New(),
		Period:   "2025-05",
	}

	event, err := NewTaskRequestEvent("report_generation", payload)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, "report_generation", event.Type)
	assert.NotNil(t, event.Payload)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)
	assert.Zero(t, event.Priority, "No hint set means engine defaults")
	assert.Zero(t, event.MaxAttempts)
	assert.Nil(t, event.ScheduledFor)

	var decoded reportRequest
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, payload.ReportID, decoded.ReportID)
	assert.Equal(t, payload.Period, decoded.Period)
}

func TestNewTaskRequestEventRejectsUnserializablePayload(t *testing.T) {
	_, err := NewTaskRequestEvent("report_generation", func() {})
	assert.Error(t, err)
}

func TestTaskRequestEventJSONRoundTrip(t *testing.T) {
	scheduledFor := time.Date(2025, 6, 2, 3, 15, 0, 0, time.UTC)
	event, err := NewTaskRequestEvent("data_export", map[string]string{"dataset": "invoices"})
	require.NoError(t, err)
	event.Priority = 1
	event.MaxAttempts = 5
	event.ScheduledFor = &scheduledFor

	encoded, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded TaskRequestEvent
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, event.Priority, decoded.Priority)
	assert.Equal(t, event.MaxAttempts, decoded.MaxAttempts)
	require.NotNil(t, decoded.ScheduledFor)
	assert.True(t, scheduledFor.Equal(*decoded.ScheduledFor))
	assert.JSONEq(t, string(event.Payload), string(decoded.Payload))
}

func TestTaskRequestEventOmitsUnsetHints(t *testing.T) {
	event, err := NewTaskRequestEvent("data_export", map[string]string{"dataset": "invoices"})
	require.NoError(t, err)

	encoded, err := json.Marshal(event)
	require.NoError(t, err)

	assert.NotContains(t, string(encoded), "priority")
	assert.NotContains(t, string(encoded), "max_attempts")
	assert.NotContains(t, string(encoded), "scheduled_for")
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *TaskRequestEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestEventHandler(t *testing.T) {
	handler := &MockEventHandler{}

	event, err := NewTaskRequestEvent("report_generation", map[string]string{"report_id": "monthly"})
	require.NoError(t, err)

	err = handler.HandleEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, 1, handler.HandledCount)
	assert.Equal(t, event, handler.LastEvent)

	expectedErr := errors.New("handler error")
	handler.HandlerError = expectedErr
	err = handler.HandleEvent(context.Background(), event)
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 2, handler.HandledCount)
}
