// Package main implements the entry point for the Glint scheduling API
// server, which hosts the task dispatch, dead-letter review, and workflow
// advancement passes behind cron trigger endpoints.
package main

import (
	"context"
	"flag"
	"log"
	"os"
)

// main wires configuration, logging, the database, and the engine, then
// serves the trigger endpoints until shut down. With -migrate it runs the
// requested migration command and exits instead.
func main() {
	migrateCmd := flag.String("migrate", "", "run a migration command (up|status) and exit")
	flag.Parse()

	cfg, err := loadAppConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	db, err := setupAppDatabase(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if *migrateCmd != "" {
		err := handleMigrations(db, *migrateCmd, logger)
		closeDatabase(db, logger)
		if err != nil {
			logger.Error("Migration failed", "command", *migrateCmd, "error", err)
			os.Exit(1)
		}
		return
	}

	app, err := newApplication(cfg, logger, db)
	if err != nil {
		closeDatabase(db, logger)
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := app.Run(context.Background()); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
