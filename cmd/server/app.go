package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/glintlabs/glint-api/internal/config"
	"github.com/glintlabs/glint-api/internal/events"
	"github.com/glintlabs/glint-api/internal/platform/postgres"
	"github.com/glintlabs/glint-api/internal/reporting"
	"github.com/glintlabs/glint-api/internal/service"
	"github.com/glintlabs/glint-api/internal/service/auth"
	"github.com/glintlabs/glint-api/internal/store"
	"github.com/glintlabs/glint-api/internal/task"
	"github.com/glintlabs/glint-api/internal/workflow"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	taskStore     store.TaskStore
	workflowStore store.WorkflowStore

	// Engine wiring
	registry *task.Registry
	policy   task.RetryPolicy
	breakers *task.BreakerRegistry

	// Pass runners, one per trigger endpoint
	dispatcher *task.Dispatcher
	reviewer   *task.Reviewer
	janitor    *task.Janitor
	advancer   *workflow.Advancer

	// Host-app surface
	schedulingService service.SchedulingService
	eventEmitter      events.EventEmitter

	// Trigger auth
	secretVerifier auth.SecretVerifier
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize stores
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.workflowStore = postgres.NewPostgresWorkflowStore(db, logger)

	// Initialize the handler registry with the built-in task types
	app.registry = task.NewRegistry()
	if err := reporting.RegisterHandlers(app.registry, logger); err != nil {
		return nil, fmt.Errorf("failed to register task handlers: %w", err)
	}

	// Initialize the retry policy from the configured ladder
	var err error
	app.policy, err = task.NewRetryPolicy(cfg.Engine.RetryDelays, cfg.Engine.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to build retry policy: %w", err)
	}

	// One breaker per task type, shared across dispatcher passes
	app.breakers = task.NewBreakerRegistry(logger)

	// Initialize pass runners
	app.dispatcher = task.NewDispatcher(
		app.taskStore,
		app.registry,
		app.policy,
		app.breakers,
		task.DispatcherConfig{
			ClaimBatchSize: cfg.Engine.ClaimBatchSize,
			WorkerCount:    cfg.Engine.WorkerCount,
			PassBudget:     cfg.Engine.DispatchBudget,
			StuckTaskAge:   cfg.Engine.StuckTaskAge,
		},
		logger,
	)

	app.reviewer = task.NewReviewer(
		app.taskStore,
		nil, // default message classifier
		task.ReviewerConfig{
			BatchSize:  cfg.Engine.ReviewBatchSize,
			CoolOff:    cfg.Engine.ReviewCoolOff,
			PassBudget: cfg.Engine.ReviewBudget,
		},
		logger,
	)

	app.janitor = task.NewJanitor(
		app.taskStore,
		task.JanitorConfig{
			StuckTaskAge: cfg.Engine.StuckTaskAge,
			PassBudget:   cfg.Engine.MaintenanceBudget,
		},
		logger,
	)

	app.advancer = workflow.NewAdvancer(
		db,
		app.workflowStore,
		app.taskStore,
		workflow.AdvancerConfig{
			BatchSize:  cfg.Engine.WorkflowBatchSize,
			StallAfter: cfg.Engine.WorkflowStaleAfter,
			PassBudget: cfg.Engine.WorkflowBudget,
		},
		logger,
	)

	// Initialize the scheduling service for in-process enqueueing
	app.schedulingService = service.NewSchedulingService(
		db,
		app.taskStore,
		app.workflowStore,
		app.registry,
		app.policy,
		logger,
	)

	// Initialize trigger secret verifier
	app.secretVerifier = auth.NewBcryptVerifier()

	// Initialize the event emitter and bind task-request events to the
	// store, so business features can emit instead of calling the service.
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(task.NewEnqueueEventHandler(
		app.taskStore,
		app.registry,
		app.policy,
		logger,
	))
	app.eventEmitter = emitter

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	err := app.startHTTPServer(ctx, router)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	closeDatabase(app.db, app.logger)
	app.logger.Info("Application shutdown completed")
}
