package workflow

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/redact"
	"github.com/glintlabs/glint-api/internal/store"
	"github.com/glintlabs/glint-api/internal/task"
)

// AdvancerConfig holds configuration for advancement passes.
type AdvancerConfig struct {
	// BatchSize bounds how many workflows each phase of a pass examines.
	BatchSize int

	// StallAfter is how long an active workflow may sit without progress
	// before the pass flags it stalled.
	StallAfter time.Duration

	// PassBudget bounds how long a pass keeps working through workflows.
	PassBudget time.Duration
}

// DefaultAdvancerConfig returns an AdvancerConfig with reasonable defaults.
func DefaultAdvancerConfig() AdvancerConfig {
	return AdvancerConfig{
		BatchSize:  20,
		StallAfter: 6 * time.Hour,
		PassBudget: 60 * time.Second,
	}
}

// AdvanceSummary reports what one advancement pass did.
type AdvanceSummary struct {
	// Activated is the number of scheduled workflows that went active.
	Activated int `json:"activated"`

	// Advanced is the number of step transitions performed. One workflow
	// falling through several zero-task steps counts each transition.
	Advanced int `json:"advanced"`

	// Completed is the number of workflows that finished their last step.
	Completed int `json:"completed"`

	// Stalled is the number of workflows flagged for having made no
	// progress within the stall threshold.
	Stalled int `json:"stalled"`
}

// Advancer drives workflows through their steps. Any number of advancers
// may run concurrently; activation and step advancement are conditional
// updates, so each transition happens exactly once.
type Advancer struct {
	workflows store.WorkflowStore
	tasks     store.TaskStore
	config    AdvancerConfig
	logger    *slog.Logger

	// runTx wraps a fan-out plus its workflow transition in one
	// transaction. Overridden in tests.
	runTx func(ctx context.Context, fn store.TxFn) error

	// clock measures the pass budget. Overridden in tests.
	clock func() time.Time
}

// NewAdvancer creates an Advancer that fans out step tasks and transitions
// workflows atomically over db.
func NewAdvancer(
	db *sql.DB,
	workflows store.WorkflowStore,
	tasks store.TaskStore,
	config AdvancerConfig,
	log *slog.Logger,
) *Advancer {
	if workflows == nil {
		panic("workflows cannot be nil")
	}
	if tasks == nil {
		panic("tasks cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultAdvancerConfig().BatchSize
	}
	if config.StallAfter <= 0 {
		config.StallAfter = DefaultAdvancerConfig().StallAfter
	}

	return &Advancer{
		workflows: workflows,
		tasks:     tasks,
		config:    config,
		logger:    log.With(slog.String("component", "advancer")),
		runTx: func(ctx context.Context, fn store.TxFn) error {
			return store.RunInTransaction(ctx, db, fn)
		},
		clock: time.Now,
	}
}

// RunPass works through three phases against the same logical now:
// activate due scheduled workflows, advance active ones whose current step
// has fully succeeded, and flag active workflows with no recent progress
// as stalled. A listing or stall-flagging failure aborts the pass with an
// OrchestrationError and the partial summary; a failure on one workflow is
// logged and the pass moves on to the next.
func (a *Advancer) RunPass(ctx context.Context, now time.Time) (AdvanceSummary, error) {
	log := logger.FromContextOrDefault(ctx, a.logger)
	summary := AdvanceSummary{}
	deadline := a.clock().Add(a.config.PassBudget)

	due, err := a.workflows.ListDueScheduled(ctx, now, a.config.BatchSize)
	if err != nil {
		return summary, task.NewOrchestrationError("advance", "list_due_scheduled", err)
	}

	for _, wf := range due {
		if a.budgetSpent(deadline) {
			log.Info("advance budget spent during activation",
				slog.Int("activated", summary.Activated))
			break
		}
		if a.activateWorkflow(ctx, wf, now) {
			summary.Activated++
		}
	}

	active, err := a.workflows.ListActive(ctx, a.config.BatchSize)
	if err != nil {
		return summary, task.NewOrchestrationError("advance", "list_active", err)
	}

	for _, wf := range active {
		if a.budgetSpent(deadline) {
			log.Info("advance budget spent during advancement",
				slog.Int("advanced", summary.Advanced))
			break
		}
		advanced, completed := a.advanceWorkflow(ctx, wf, now)
		summary.Advanced += advanced
		if completed {
			summary.Completed++
		}
	}

	stalled, err := a.workflows.MarkStalled(ctx, now.Add(-a.config.StallAfter), now)
	if err != nil {
		return summary, task.NewOrchestrationError("advance", "mark_stalled", err)
	}
	summary.Stalled = len(stalled)
	if len(stalled) > 0 {
		log.Warn("flagged stalled workflows",
			slog.Int("count", len(stalled)),
			slog.Duration("stall_after", a.config.StallAfter))
	}

	log.Info("advance pass finished",
		slog.Int("activated", summary.Activated),
		slog.Int("advanced", summary.Advanced),
		slog.Int("completed", summary.Completed),
		slog.Int("stalled", summary.Stalled))
	return summary, nil
}

func (a *Advancer) budgetSpent(deadline time.Time) bool {
	return a.config.PassBudget > 0 && !a.clock().Before(deadline)
}

// activateWorkflow fans out the first step's tasks and flips the workflow
// to active in one transaction, so a workflow is never active without its
// step-zero tasks enqueued. Reports whether this call performed the
// activation.
func (a *Advancer) activateWorkflow(ctx context.Context, wf *domain.Workflow, now time.Time) bool {
	log := logger.FromContextOrDefault(ctx, a.logger).With(
		slog.String("workflow_id", wf.ID.String()),
		slog.String("workflow_name", wf.Name),
	)

	err := a.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		step := &wf.Steps[0]
		ids, err := a.enqueueStepTasks(ctx, a.tasks.WithTx(tx), step, now)
		if err != nil {
			return err
		}
		step.TaskIDs = ids
		return a.workflows.WithTx(tx).Activate(ctx, wf, now)
	})
	if err != nil {
		if store.IsUpdateConflictError(err) {
			log.Debug("workflow already activated elsewhere")
			return false
		}
		log.Error("failed to activate workflow",
			slog.String("error", redact.Error(err)))
		return false
	}

	log.Info("workflow activated",
		slog.Int("first_step_tasks", len(wf.Steps[0].TaskIDs)))
	return true
}

// advanceWorkflow moves one active workflow as far as this pass can see:
// when every task of the current step has succeeded the index moves on,
// fanning out the next step's tasks in the same transaction. Zero-task
// steps fall through immediately, and a workflow past its last step is
// marked completed. A failed or unfinished step task ends the walk.
func (a *Advancer) advanceWorkflow(
	ctx context.Context,
	wf *domain.Workflow,
	now time.Time,
) (advanced int, completed bool) {
	log := logger.FromContextOrDefault(ctx, a.logger).With(
		slog.String("workflow_id", wf.ID.String()),
		slog.String("workflow_name", wf.Name),
	)

	for {
		step, ok := wf.CurrentStep()
		if !ok {
			return advanced, a.completeWorkflow(ctx, log, wf, now)
		}

		if len(step.TaskIDs) > 0 {
			switch a.stepState(ctx, log, step) {
			case stepBlocked, stepInFlight:
				return advanced, false
			}
		}

		fromIndex := wf.CurrentStepIndex
		wf.CurrentStepIndex++

		next, hasNext := wf.CurrentStep()
		fanOut := hasNext && len(next.Tasks) > 0

		err := a.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if fanOut {
				ids, err := a.enqueueStepTasks(ctx, a.tasks.WithTx(tx), next, now)
				if err != nil {
					return err
				}
				next.TaskIDs = ids
			}
			return a.workflows.WithTx(tx).AdvanceStep(ctx, wf, fromIndex, now)
		})
		if err != nil {
			if store.IsUpdateConflictError(err) {
				log.Debug("workflow already advanced elsewhere",
					slog.Int("from_step", fromIndex))
				return advanced, false
			}
			log.Error("failed to advance workflow",
				slog.Int("from_step", fromIndex),
				slog.String("error", redact.Error(err)))
			return advanced, false
		}

		advanced++
		log.Info("workflow advanced",
			slog.Int("from_step", fromIndex),
			slog.Int("to_step", wf.CurrentStepIndex))

		if fanOut {
			// The new step's tasks were just enqueued; nothing more can
			// happen for this workflow until they run.
			return advanced, false
		}
	}
}

// stepProgress is where the current step's tasks collectively stand.
type stepProgress int

const (
	stepSucceeded stepProgress = iota
	stepInFlight
	stepBlocked
)

// stepState loads the step's tasks and folds their statuses. A task in
// dead_letter or failed_permanent blocks the step; any task still moving
// keeps it in flight.
func (a *Advancer) stepState(ctx context.Context, log *slog.Logger, step *domain.WorkflowStep) stepProgress {
	tasks, err := a.tasks.GetByIDs(ctx, step.TaskIDs)
	if err != nil {
		log.Error("failed to load step tasks",
			slog.String("step", step.Name),
			slog.String("error", redact.Error(err)))
		return stepInFlight
	}
	if len(tasks) < len(step.TaskIDs) {
		log.Warn("step tasks missing from store",
			slog.String("step", step.Name),
			slog.Int("expected", len(step.TaskIDs)),
			slog.Int("found", len(tasks)))
		return stepBlocked
	}

	var blockedOn uuid.UUID
	var blockedStatus domain.TaskStatus
	unfinished := 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusSucceeded:
		case domain.TaskStatusDeadLetter, domain.TaskStatusFailedPermanent:
			blockedOn = t.ID
			blockedStatus = t.Status
		default:
			unfinished++
		}
	}

	if blockedOn != uuid.Nil {
		log.Debug("workflow blocked on failed task",
			slog.String("step", step.Name),
			slog.String("task_id", blockedOn.String()),
			slog.String("task_status", string(blockedStatus)))
		return stepBlocked
	}
	if unfinished > 0 {
		return stepInFlight
	}
	return stepSucceeded
}

// completeWorkflow marks a workflow past its last step as completed.
func (a *Advancer) completeWorkflow(ctx context.Context, log *slog.Logger, wf *domain.Workflow, now time.Time) bool {
	err := a.workflows.UpdateStatus(ctx, wf.ID,
		domain.WorkflowStatusActive, domain.WorkflowStatusCompleted, now)
	if err != nil {
		if store.IsUpdateConflictError(err) {
			log.Debug("workflow already completed elsewhere")
			return false
		}
		log.Error("failed to complete workflow",
			slog.String("error", redact.Error(err)))
		return false
	}

	log.Info("workflow completed", slog.Int("steps", len(wf.Steps)))
	return true
}

// enqueueStepTasks creates one task per spec of the step, due immediately.
// The returned ids are recorded on the step so later passes can watch the
// exact tasks this fan-out created.
func (a *Advancer) enqueueStepTasks(
	ctx context.Context,
	tasks store.TaskStore,
	step *domain.WorkflowStep,
	now time.Time,
) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(step.Tasks))
	for i := range step.Tasks {
		spec := &step.Tasks[i]
		stepTask, err := domain.NewTask(spec.Type, spec.Payload, spec.Priority, spec.MaxAttempts, now, now)
		if err != nil {
			return nil, err
		}
		if err := tasks.Enqueue(ctx, stepTask); err != nil {
			return nil, err
		}
		ids = append(ids, stepTask.ID)
	}
	return ids, nil
}
