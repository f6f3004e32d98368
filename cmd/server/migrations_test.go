package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleMigrationsRejectsUnknownCommand(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	err := handleMigrations(nil, "sideways", log)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sideways", "The error should name the bad command")
	assert.Contains(t, err.Error(), "up or status")
}
