// Package main is the entry point for the standalone Glint scheduler.
//
// The scheduler runs the same passes as the API server's trigger endpoints,
// but in-process on cron cadences instead of behind HTTP. It suits
// single-node and development deployments where no external cron
// infrastructure exists. Overlap between a scheduled tick and an external
// trigger is safe: claims and conditional updates in the store keep
// concurrent passes from processing the same row twice.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/glintlabs/glint-api/internal/config"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/platform/postgres"
	"github.com/glintlabs/glint-api/internal/reporting"
	"github.com/glintlabs/glint-api/internal/task"
	"github.com/glintlabs/glint-api/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	db, err := postgres.Connect(cfg.Database.URL, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", "error", err)
		}
	}()

	if err := run(cfg, appLogger, db); err != nil {
		appLogger.Error("Scheduler failed", "error", err)
		os.Exit(1)
	}
}

// run assembles the pass runners, registers them with the cron scheduler,
// and blocks until a shutdown signal arrives.
func run(cfg *config.Config, appLogger *slog.Logger, db *sql.DB) error {
	taskStore := postgres.NewPostgresTaskStore(db, appLogger)
	workflowStore := postgres.NewPostgresWorkflowStore(db, appLogger)

	registry := task.NewRegistry()
	if err := reporting.RegisterHandlers(registry, appLogger); err != nil {
		return err
	}

	policy, err := task.NewRetryPolicy(cfg.Engine.RetryDelays, cfg.Engine.MaxAttempts)
	if err != nil {
		return err
	}

	breakers := task.NewBreakerRegistry(appLogger)

	dispatcher := task.NewDispatcher(taskStore, registry, policy, breakers, task.DispatcherConfig{
		ClaimBatchSize: cfg.Engine.ClaimBatchSize,
		WorkerCount:    cfg.Engine.WorkerCount,
		PassBudget:     cfg.Engine.DispatchBudget,
		StuckTaskAge:   cfg.Engine.StuckTaskAge,
	}, appLogger)

	reviewer := task.NewReviewer(taskStore, nil, task.ReviewerConfig{
		BatchSize:  cfg.Engine.ReviewBatchSize,
		CoolOff:    cfg.Engine.ReviewCoolOff,
		PassBudget: cfg.Engine.ReviewBudget,
	}, appLogger)

	janitor := task.NewJanitor(taskStore, task.JanitorConfig{
		StuckTaskAge: cfg.Engine.StuckTaskAge,
		PassBudget:   cfg.Engine.MaintenanceBudget,
	}, appLogger)

	advancer := workflow.NewAdvancer(db, workflowStore, taskStore, workflow.AdvancerConfig{
		BatchSize:  cfg.Engine.WorkflowBatchSize,
		StallAfter: cfg.Engine.WorkflowStaleAfter,
		PassBudget: cfg.Engine.WorkflowBudget,
	}, appLogger)

	c := cron.New()

	entries := []struct {
		name string
		spec string
		pass func(ctx context.Context, now time.Time) error
	}{
		{"dispatch", cfg.Scheduler.DispatchSpec, func(ctx context.Context, now time.Time) error {
			_, err := dispatcher.RunPass(ctx, now)
			return err
		}},
		{"review", cfg.Scheduler.ReviewSpec, func(ctx context.Context, now time.Time) error {
			_, err := reviewer.Review(ctx, now)
			return err
		}},
		{"workflow", cfg.Scheduler.WorkflowSpec, func(ctx context.Context, now time.Time) error {
			_, err := advancer.RunPass(ctx, now)
			return err
		}},
		{"maintenance", cfg.Scheduler.MaintenanceSpec, func(ctx context.Context, now time.Time) error {
			_, err := janitor.RunPass(ctx, now)
			return err
		}},
	}

	for _, entry := range entries {
		name, pass := entry.name, entry.pass
		_, err := c.AddFunc(entry.spec, func() {
			// Each tick is its own pass with its own logical clock.
			if err := pass(context.Background(), time.Now().UTC()); err != nil {
				appLogger.Error("Scheduled pass failed",
					slog.String("pass", name),
					slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return err
		}
	}

	c.Start()
	appLogger.Info("Scheduler started",
		slog.String("dispatch_spec", cfg.Scheduler.DispatchSpec),
		slog.String("review_spec", cfg.Scheduler.ReviewSpec),
		slog.String("workflow_spec", cfg.Scheduler.WorkflowSpec),
		slog.String("maintenance_spec", cfg.Scheduler.MaintenanceSpec))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Shutdown signal received", "signal", sig.String())

	// Stop schedules no new ticks; wait for in-flight passes to finish
	// their writes before the database goes away.
	<-c.Stop().Done()
	appLogger.Info("Scheduler stopped")
	return nil
}
