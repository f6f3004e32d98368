package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/redact"
	"github.com/glintlabs/glint-api/internal/store"
	"github.com/glintlabs/glint-api/internal/task"
)

// SchedulingService is the host application's doorway into the engine:
// enqueue background tasks, create and steer workflows, inspect the dead
// letter set. Handlers themselves are registered on the task.Registry at
// startup; this service only accepts work for types that have one.
type SchedulingService interface {
	// EnqueueTask stores a new task of the given registered type. Options
	// override the engine defaults for priority, attempt budget and first
	// run time. Returns the id of the created task.
	EnqueueTask(ctx context.Context, taskType string, payload json.RawMessage, opts ...EnqueueOption) (uuid.UUID, error)

	// CreateWorkflow stores a scheduled workflow that activates at
	// activateAt. Task specs with no attempt budget get the engine default.
	CreateWorkflow(ctx context.Context, name string, steps []domain.WorkflowStep, activateAt time.Time) (*domain.Workflow, error)

	// CancelWorkflow stops a scheduled, active or stalled workflow.
	// Tasks already enqueued by earlier steps still drain through the
	// dispatcher; no new steps fan out.
	CancelWorkflow(ctx context.Context, id uuid.UUID) error

	// ResumeWorkflow returns a stalled workflow to active with a fresh
	// progress stamp.
	ResumeWorkflow(ctx context.Context, id uuid.UUID) error

	// ListDeadLetterTasks retrieves parked tasks for operator inspection,
	// oldest first.
	ListDeadLetterTasks(ctx context.Context, limit int) ([]*domain.Task, error)
}

// EnqueueOption overrides one enqueue default.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority     domain.TaskPriority
	maxAttempts  int
	scheduledFor time.Time
}

// WithPriority sets the task's claim ordering priority.
func WithPriority(priority domain.TaskPriority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = priority }
}

// WithMaxAttempts overrides the engine's default attempt budget.
func WithMaxAttempts(maxAttempts int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = maxAttempts }
}

// WithScheduledFor defers the task's first run.
func WithScheduledFor(scheduledFor time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.scheduledFor = scheduledFor.UTC() }
}

// SchedulingServiceImpl implements the SchedulingService interface.
type SchedulingServiceImpl struct {
	tasks     store.TaskStore
	workflows store.WorkflowStore
	registry  *task.Registry
	policy    task.RetryPolicy
	logger    *slog.Logger

	// runTx wraps writes in one transaction. Overridden in tests.
	runTx func(ctx context.Context, fn store.TxFn) error

	// now stamps created entities. Overridden in tests.
	now func() time.Time
}

// NewSchedulingService creates a SchedulingService persisting through db.
func NewSchedulingService(
	db *sql.DB,
	tasks store.TaskStore,
	workflows store.WorkflowStore,
	registry *task.Registry,
	policy task.RetryPolicy,
	log *slog.Logger,
) SchedulingService {
	if tasks == nil {
		panic("tasks cannot be nil")
	}
	if workflows == nil {
		panic("workflows cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &SchedulingServiceImpl{
		tasks:     tasks,
		workflows: workflows,
		registry:  registry,
		policy:    policy,
		logger:    log.With(slog.String("component", "scheduling_service")),
		runTx: func(ctx context.Context, fn store.TxFn) error {
			return store.RunInTransaction(ctx, db, fn)
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueTask validates the request against the handler registry and stores
// the task. Defaults: normal priority, the retry policy's attempt budget,
// due immediately.
func (s *SchedulingServiceImpl) EnqueueTask(
	ctx context.Context,
	taskType string,
	payload json.RawMessage,
	opts ...EnqueueOption,
) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, ok := s.registry.Resolve(taskType); !ok {
		log.Warn("enqueue requested for unregistered task type",
			slog.String("task_type", taskType))
		return uuid.Nil, fmt.Errorf("%w: %s", task.ErrNoHandler, taskType)
	}

	now := s.now()
	options := enqueueOptions{
		priority:     domain.TaskPriorityNormal,
		maxAttempts:  s.policy.MaxAttempts(),
		scheduledFor: now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	newTask, err := domain.NewTask(taskType, payload, options.priority, options.maxAttempts, options.scheduledFor, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid task request: %w", err)
	}

	err = s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.tasks.WithTx(tx).Enqueue(ctx, newTask)
	})
	if err != nil {
		log.Error("failed to enqueue task",
			slog.String("task_type", taskType),
			slog.String("error", redact.Error(err)))
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info("task enqueued",
		slog.String("task_id", newTask.ID.String()),
		slog.String("task_type", taskType),
		slog.Time("scheduled_for", options.scheduledFor))
	return newTask.ID, nil
}

// CreateWorkflow validates every step's task specs against the handler
// registry, fills in default attempt budgets and stores the workflow as
// scheduled. The advancer picks it up once activateAt passes.
func (s *SchedulingServiceImpl) CreateWorkflow(
	ctx context.Context,
	name string,
	steps []domain.WorkflowStep,
	activateAt time.Time,
) (*domain.Workflow, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	// Work on a copy so defaulting never mutates the caller's specs.
	steps = append([]domain.WorkflowStep(nil), steps...)
	for si := range steps {
		steps[si].Tasks = append([]domain.TaskSpec(nil), steps[si].Tasks...)
		for ti := range steps[si].Tasks {
			spec := &steps[si].Tasks[ti]
			if _, ok := s.registry.Resolve(spec.Type); !ok {
				return nil, fmt.Errorf("%w: %s in step %q", task.ErrNoHandler, spec.Type, steps[si].Name)
			}
			if spec.MaxAttempts <= 0 {
				spec.MaxAttempts = s.policy.MaxAttempts()
			}
		}
	}

	workflow, err := domain.NewWorkflow(name, steps, activateAt, s.now())
	if err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	err = s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.workflows.WithTx(tx).Create(ctx, workflow)
	})
	if err != nil {
		log.Error("failed to create workflow",
			slog.String("workflow_name", name),
			slog.String("error", redact.Error(err)))
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	log.Info("workflow created",
		slog.String("workflow_id", workflow.ID.String()),
		slog.String("workflow_name", name),
		slog.Int("steps", len(steps)),
		slog.Time("activate_at", workflow.ActivateAt))
	return workflow, nil
}

// CancelWorkflow moves a workflow to cancelled from whatever non-terminal
// state it is in. The conditional update means a concurrent activation or
// advance surfaces as ErrUpdateConflict rather than being overwritten.
func (s *SchedulingServiceImpl) CancelWorkflow(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	workflow, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	if !domain.ValidWorkflowTransition(workflow.Status, domain.WorkflowStatusCancelled) {
		return fmt.Errorf("%w: cannot cancel a %s workflow",
			domain.ErrInvalidWorkflowTransition, workflow.Status)
	}

	if err := s.workflows.UpdateStatus(ctx, id, workflow.Status, domain.WorkflowStatusCancelled, s.now()); err != nil {
		log.Error("failed to cancel workflow",
			slog.String("workflow_id", id.String()),
			slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to cancel workflow: %w", err)
	}

	log.Info("workflow cancelled",
		slog.String("workflow_id", id.String()),
		slog.String("was", string(workflow.Status)))
	return nil
}

// ResumeWorkflow returns a stalled workflow to active. The store stamps a
// fresh progress time so the stall sweep does not immediately re-flag it.
func (s *SchedulingServiceImpl) ResumeWorkflow(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	workflow, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow.Status != domain.WorkflowStatusStalled {
		return fmt.Errorf("%w: cannot resume a %s workflow",
			domain.ErrInvalidWorkflowTransition, workflow.Status)
	}

	if err := s.workflows.UpdateStatus(ctx, id, domain.WorkflowStatusStalled, domain.WorkflowStatusActive, s.now()); err != nil {
		log.Error("failed to resume workflow",
			slog.String("workflow_id", id.String()),
			slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to resume workflow: %w", err)
	}

	log.Info("workflow resumed", slog.String("workflow_id", id.String()))
	return nil
}

// defaultDeadLetterLimit bounds operator listings when no limit is given.
const defaultDeadLetterLimit = 50

// ListDeadLetterTasks retrieves parked tasks, oldest update first.
func (s *SchedulingServiceImpl) ListDeadLetterTasks(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = defaultDeadLetterLimit
	}

	tasks, err := s.tasks.ListDeadLetter(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter tasks: %w", err)
	}
	return tasks, nil
}
