package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventEmitter(t *testing.T) {
	// Create a minimal logger that discards output
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		event, err := NewTaskRequestEvent("report_generation", map[string]string{"report_id": "monthly"})
		require.NoError(t, err)

		// Should not error even with no handlers
		err = emitter.EmitEvent(context.Background(), event)
		assert.NoError(t, err)
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		handler1 := &MockEventHandler{}
		handler2 := &MockEventHandler{}

		emitter.RegisterHandler(handler1)
		emitter.RegisterHandler(handler2)

		event, err := NewTaskRequestEvent("report_generation", map[string]string{"report_id": "monthly"})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.NoError(t, err)

		// Verify both handlers received the event
		assert.Equal(t, 1, handler1.HandledCount)
		assert.Equal(t, 1, handler2.HandledCount)
		assert.Equal(t, event, handler1.LastEvent)
		assert.Equal(t, event, handler2.LastEvent)
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		// One failing handler must not starve the handler after it.
		failingHandler := &MockEventHandler{
			HandlerError: errors.New("handler error"),
		}
		successHandler := &MockEventHandler{}

		emitter.RegisterHandler(failingHandler)
		emitter.RegisterHandler(successHandler)

		event, err := NewTaskRequestEvent("data_export", map[string]string{"dataset": "invoices"})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.Error(t, err)
		assert.Equal(t, "handler error", err.Error())

		assert.Equal(t, 1, failingHandler.HandledCount)
		assert.Equal(t, 1, successHandler.HandledCount)
		assert.Equal(t, event, successHandler.LastEvent)
	})

	t.Run("first error wins when several handlers fail", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		firstErr := errors.New("first failure")
		emitter.RegisterHandler(&MockEventHandler{HandlerError: firstErr})
		emitter.RegisterHandler(&MockEventHandler{HandlerError: errors.New("second failure")})

		event, err := NewTaskRequestEvent("data_export", map[string]string{"dataset": "invoices"})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.Equal(t, firstErr, err)
	})
}
