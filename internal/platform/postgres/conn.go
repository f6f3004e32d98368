package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/glintlabs/glint-api/internal/redact"
)

// Connect opens a pooled connection to the database and waits for it to
// answer. Startup usually races the database in containerized deployments,
// so the initial ping retries with exponential backoff before giving up.
func Connect(url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("database not reachable yet",
			slog.String("error", redact.Error(err)),
			slog.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(ping, policy, notify); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database after failed ping", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}
