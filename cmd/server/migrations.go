package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/glintlabs/glint-api/internal/platform/postgres"
)

// handleMigrations executes the migration command named by the -migrate
// flag. Migrations are embedded in the binary, so "up" can run against a
// fresh database with no files on disk.
func handleMigrations(db *sql.DB, migrateCmd string, logger *slog.Logger) error {
	switch migrateCmd {
	case "up":
		logger.Info("Applying migrations")
		if err := postgres.RunMigrations(db); err != nil {
			return err
		}
		logger.Info("Migrations applied")
		return nil

	case "status":
		return postgres.MigrationStatus(db)

	default:
		return fmt.Errorf("unknown migration command %q (want up or status)", migrateCmd)
	}
}
