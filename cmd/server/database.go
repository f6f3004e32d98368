package main

import (
	"database/sql"
	"log/slog"

	"github.com/glintlabs/glint-api/internal/config"
	"github.com/glintlabs/glint-api/internal/platform/postgres"
)

// setupAppDatabase establishes the pooled database connection shared by the
// stores and the migration runner.
func setupAppDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	return postgres.Connect(cfg.Database.URL, logger)
}

// closeDatabase closes the pool, logging rather than failing on error.
func closeDatabase(db *sql.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error("Error closing database connection", "error", err)
	}
}
