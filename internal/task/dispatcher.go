package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/redact"
	"github.com/glintlabs/glint-api/internal/store"
)

// DispatcherConfig holds configuration for dispatch passes.
type DispatcherConfig struct {
	// ClaimBatchSize bounds how many tasks one claim round takes.
	ClaimBatchSize int

	// WorkerCount determines how many claimed tasks execute concurrently.
	WorkerCount int

	// PassBudget bounds how long a pass keeps claiming new batches.
	// In-flight handlers always run to completion past the budget.
	PassBudget time.Duration

	// StuckTaskAge is how long a claim may hold a task in running before
	// the pre-pass sweep releases it.
	StuckTaskAge time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ClaimBatchSize: 25,
		WorkerCount:    4,
		PassBudget:     60 * time.Second,
		StuckTaskAge:   30 * time.Minute,
	}
}

// DispatchSummary reports what one dispatch pass did.
type DispatchSummary struct {
	// Processed is the number of tasks claimed and handed to a handler path.
	Processed int `json:"processed"`

	// Succeeded is the number of tasks that completed.
	Succeeded int `json:"succeeded"`

	// Retried is the number of tasks scheduled for another attempt.
	Retried int `json:"retried"`

	// DeadLettered is the number of tasks parked after exhausting attempts.
	DeadLettered int `json:"deadLettered"`

	// PermanentlyFailed is the number of tasks failed without retry.
	PermanentlyFailed int `json:"permanentlyFailed"`

	// StuckReleased is the number of expired claims returned to pending by
	// the pre-pass sweep.
	StuckReleased int `json:"stuckReleased"`

	// StuckDeadLettered is the number of expired claims parked by the
	// pre-pass sweep because their attempts were already spent.
	StuckDeadLettered int `json:"stuckDeadLettered"`
}

// Dispatcher claims due tasks and runs their handlers, recording every
// outcome through the task store. Any number of dispatchers may run
// concurrently against the same store; the claim query guarantees each
// task lands in exactly one pass.
type Dispatcher struct {
	store    store.TaskStore
	registry *Registry
	policy   RetryPolicy
	breakers *BreakerRegistry
	config   DispatcherConfig
	logger   *slog.Logger

	// clock measures the pass budget. Overridden in tests.
	clock func() time.Time
}

// NewDispatcher creates a Dispatcher. The registry and store are required;
// a nil breakers registry disables circuit breaking.
func NewDispatcher(
	taskStore store.TaskStore,
	registry *Registry,
	policy RetryPolicy,
	breakers *BreakerRegistry,
	config DispatcherConfig,
	log *slog.Logger,
) *Dispatcher {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = DefaultDispatcherConfig().ClaimBatchSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Dispatcher{
		store:    taskStore,
		registry: registry,
		policy:   policy,
		breakers: breakers,
		config:   config,
		logger:   log.With(slog.String("component", "dispatcher")),
		clock:    time.Now,
	}
}

// RunPass claims and executes due tasks until the store runs dry or the
// pass budget is spent. now is the pass's logical time: claims, retry
// scheduling and result stamps all use it, so a pass is a pure function of
// (store state, now). The budget is measured against the wall clock.
//
// A claim failure aborts the pass with an OrchestrationError and returns
// the partial summary. A failure recording one task's outcome is logged
// and the pass continues; the stuck-task sweep will recover the task.
func (d *Dispatcher) RunPass(ctx context.Context, now time.Time) (DispatchSummary, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)
	summary := DispatchSummary{}
	deadline := d.clock().Add(d.config.PassBudget)

	released, parked, err := d.store.ReleaseStuck(ctx, now.Add(-d.config.StuckTaskAge), now)
	if err != nil {
		// The sweep is a safety net, not a precondition; claiming can
		// still make progress without it.
		log.Warn("stuck task sweep failed",
			slog.String("error", redact.Error(err)))
	} else {
		summary.StuckReleased = released
		summary.StuckDeadLettered = parked
		if released > 0 || parked > 0 {
			log.Info("released expired task claims",
				slog.Int("released", released),
				slog.Int("dead_lettered", parked))
		}
	}

	for {
		if d.config.PassBudget > 0 && !d.clock().Before(deadline) {
			log.Info("dispatch budget spent, ending pass",
				slog.Int("processed", summary.Processed))
			break
		}

		batch, err := d.store.ClaimDue(ctx, now, d.config.ClaimBatchSize)
		if err != nil {
			return summary, NewOrchestrationError("dispatch", "claim", err)
		}
		if len(batch) == 0 {
			break
		}

		log.Debug("claimed task batch", slog.Int("count", len(batch)))
		d.runBatch(ctx, batch, now, &summary)

		if len(batch) < d.config.ClaimBatchSize {
			// A short batch means the due set is drained.
			break
		}
	}

	log.Info("dispatch pass finished",
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("retried", summary.Retried),
		slog.Int("dead_lettered", summary.DeadLettered),
		slog.Int("permanently_failed", summary.PermanentlyFailed))
	return summary, nil
}

// runBatch executes one claimed batch on the worker pool and folds the
// outcomes into the summary.
func (d *Dispatcher) runBatch(ctx context.Context, batch []*domain.Task, now time.Time, summary *DispatchSummary) {
	outcomes := runPool(d.config.WorkerCount, batch, func(t *domain.Task) taskOutcome {
		return d.processTask(ctx, t, now)
	})

	for _, outcome := range outcomes {
		summary.Processed++
		switch outcome {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeRetried:
			summary.Retried++
		case outcomeDeadLettered:
			summary.DeadLettered++
		case outcomePermanentlyFailed:
			summary.PermanentlyFailed++
		case outcomeRecordingFailed:
			// Counted in Processed only; the task is still running in the
			// store and the stuck sweep will reclaim it.
		}
	}
}

// taskOutcome is the terminal bucket one processed task fell into.
type taskOutcome int

const (
	outcomeSucceeded taskOutcome = iota
	outcomeRetried
	outcomeDeadLettered
	outcomePermanentlyFailed
	outcomeRecordingFailed
)

// processTask runs one claimed task end to end: resolve the handler,
// execute through the type's breaker, classify the outcome and write it
// back.
func (d *Dispatcher) processTask(ctx context.Context, t *domain.Task, now time.Time) taskOutcome {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.Type),
		slog.Int("attempt", t.Attempts),
	)

	handler, ok := d.registry.Resolve(t.Type)
	if !ok {
		log.Error("no handler registered for claimed task")
		return d.recordFailure(ctx, log, t,
			fmt.Errorf("%w: %s", ErrNoHandler, t.Type), domain.ErrorClassPermanent, now)
	}

	err := d.execute(ctx, handler, t, log)
	if err == nil {
		if recordErr := d.store.Complete(ctx, t.ID, now); recordErr != nil {
			return d.recordingFailed(log, "complete", recordErr)
		}
		log.Info("task succeeded")
		return outcomeSucceeded
	}

	if IsBreakerOpen(err) {
		// The handler never ran; fail fast as transient so the task lands
		// on the normal retry ladder instead of hammering a downed
		// dependency within this pass.
		log.Warn("task skipped, circuit breaker open")
		err = Transient(fmt.Errorf("circuit breaker open for task type %s", t.Type))
	}

	return d.recordFailure(ctx, log, t, err, Classify(err), now)
}

// execute invokes the handler through the per-type circuit breaker with
// panic recovery. The handler context is detached from the pass budget so
// budget expiry never aborts a handler mid-side-effect.
func (d *Dispatcher) execute(ctx context.Context, handler Handler, t *domain.Task, log *slog.Logger) error {
	hctx := logger.WithLogger(context.WithoutCancel(ctx), log)

	invoke := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("task handler panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = fmt.Errorf("task handler panicked: %v", r)
			}
		}()
		return handler(hctx, t.Payload)
	}

	if d.breakers == nil {
		return invoke()
	}

	_, err := d.breakers.For(t.Type).Execute(func() (interface{}, error) {
		return nil, invoke()
	})
	return err
}

// recordFailure writes the classified failure back to the store: permanent
// failures park immediately, transient ones retry until the attempt budget
// is spent and then dead-letter.
func (d *Dispatcher) recordFailure(
	ctx context.Context,
	log *slog.Logger,
	t *domain.Task,
	taskErr error,
	class domain.ErrorClass,
	now time.Time,
) taskOutcome {
	storedErr := store.TaskError{
		Message: redact.Error(taskErr),
		Class:   class,
	}

	if class == domain.ErrorClassPermanent {
		if err := d.store.MarkPermanentFailure(ctx, t.ID, storedErr, now); err != nil {
			return d.recordingFailed(log, "mark_permanent_failure", err)
		}
		log.Warn("task failed permanently",
			slog.String("error", storedErr.Message))
		return outcomePermanentlyFailed
	}

	if t.Attempts >= t.MaxAttempts {
		if err := d.store.MarkDeadLetter(ctx, t.ID, storedErr, now); err != nil {
			return d.recordingFailed(log, "mark_dead_letter", err)
		}
		log.Warn("task dead lettered, attempts exhausted",
			slog.Int("max_attempts", t.MaxAttempts),
			slog.String("error", storedErr.Message))
		return outcomeDeadLettered
	}

	nextAttemptAt := d.policy.NextAttemptAt(now, t.Attempts)
	if err := d.store.ScheduleRetry(ctx, t.ID, nextAttemptAt, storedErr, now); err != nil {
		return d.recordingFailed(log, "schedule_retry", err)
	}
	log.Info("task retry scheduled",
		slog.Time("next_attempt_at", nextAttemptAt),
		slog.String("error", storedErr.Message))
	return outcomeRetried
}

// recordingFailed logs a store failure while finishing a task. The task
// stays running; the stuck sweep reclaims it later.
func (d *Dispatcher) recordingFailed(log *slog.Logger, operation string, err error) taskOutcome {
	if store.IsUpdateConflictError(err) {
		// Another actor already resolved the task, most likely a stuck
		// sweep that fired while the handler overran its claim age.
		log.Warn("task outcome already recorded elsewhere",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
		return outcomeRecordingFailed
	}

	log.Error("failed to record task outcome",
		slog.String("operation", operation),
		slog.String("error", redact.Error(err)))
	return outcomeRecordingFailed
}
