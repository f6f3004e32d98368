package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/redact"
	"github.com/glintlabs/glint-api/internal/store"
)

// MessageClassifier re-judges a parked task's stored failure. It receives
// the persisted error message and the class assigned when the task was
// parked, and returns the class the reviewer should act on. The default
// classifier trusts the stored class; deployments can swap in one that
// inspects messages, for example to treat a since-resolved incident's
// errors as transient.
type MessageClassifier func(message string, class domain.ErrorClass) domain.ErrorClass

// DefaultMessageClassifier trusts the class recorded when the task parked.
func DefaultMessageClassifier(_ string, class domain.ErrorClass) domain.ErrorClass {
	return class
}

// ReviewerConfig holds configuration for dead-letter review passes.
type ReviewerConfig struct {
	// BatchSize bounds how many parked tasks one pass inspects.
	BatchSize int

	// CoolOff is how long a task must sit parked before it is eligible
	// for requeue. Measured against the task's updated_at stamp.
	CoolOff time.Duration

	// PassBudget bounds how long a pass keeps reviewing.
	PassBudget time.Duration
}

// DefaultReviewerConfig returns a ReviewerConfig with reasonable defaults.
func DefaultReviewerConfig() ReviewerConfig {
	return ReviewerConfig{
		BatchSize:  50,
		CoolOff:    30 * time.Minute,
		PassBudget: 60 * time.Second,
	}
}

// Reviewer walks the dead-letter set and requeues tasks whose failures
// look recoverable after a cool-off. Requeueing is CAS'd on dead_letter
// status, so overlapping reviews revive a task at most once.
type Reviewer struct {
	store    store.TaskStore
	classify MessageClassifier
	config   ReviewerConfig
	logger   *slog.Logger

	// clock measures the pass budget. Overridden in tests.
	clock func() time.Time
}

// ReviewSummary reports what one review pass did.
type ReviewSummary struct {
	// Reviewed is the number of parked tasks inspected.
	Reviewed int `json:"reviewed"`

	// Requeued is the number of tasks returned to pending with a fresh
	// attempt budget.
	Requeued int `json:"requeued"`

	// LeftParked is the number of tasks left in the dead-letter set.
	LeftParked int `json:"leftParked"`
}

// NewReviewer creates a Reviewer. A nil classifier falls back to
// DefaultMessageClassifier.
func NewReviewer(
	taskStore store.TaskStore,
	classify MessageClassifier,
	config ReviewerConfig,
	log *slog.Logger,
) *Reviewer {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if classify == nil {
		classify = DefaultMessageClassifier
	}
	if log == nil {
		log = slog.Default()
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReviewerConfig().BatchSize
	}

	return &Reviewer{
		store:    taskStore,
		classify: classify,
		config:   config,
		logger:   log.With(slog.String("component", "reviewer")),
		clock:    time.Now,
	}
}

// Review inspects one batch of parked tasks. A task is requeued when its
// failure is judged transient and it has sat parked for at least the
// cool-off; everything else stays put. Listing failures abort the pass;
// a failure requeueing one task is logged and the pass continues.
func (r *Reviewer) Review(ctx context.Context, now time.Time) (ReviewSummary, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)
	summary := ReviewSummary{}
	deadline := r.clock().Add(r.config.PassBudget)

	parked, err := r.store.ListDeadLetter(ctx, r.config.BatchSize)
	if err != nil {
		return summary, NewOrchestrationError("review", "list_dead_letter", err)
	}

	for _, t := range parked {
		if r.config.PassBudget > 0 && !r.clock().Before(deadline) {
			log.Info("review budget spent, ending pass",
				slog.Int("reviewed", summary.Reviewed))
			break
		}

		summary.Reviewed++
		taskLog := log.With(
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", t.Type),
		)

		class := r.classify(t.LastError, t.LastErrorClass)
		parkedFor := now.Sub(t.UpdatedAt)

		if class != domain.ErrorClassTransient || parkedFor < r.config.CoolOff {
			summary.LeftParked++
			taskLog.Debug("task left parked",
				slog.String("class", string(class)),
				slog.Duration("parked_for", parkedFor))
			continue
		}

		if err := r.store.RequeueDeadLetter(ctx, t.ID, now); err != nil {
			summary.LeftParked++
			if store.IsUpdateConflictError(err) {
				// A concurrent review got there first.
				taskLog.Debug("task already requeued elsewhere")
				continue
			}
			taskLog.Error("failed to requeue dead letter task",
				slog.String("error", redact.Error(err)))
			continue
		}

		summary.Requeued++
		taskLog.Info("dead letter task requeued",
			slog.Duration("parked_for", parkedFor),
			slog.String("last_error", t.LastError))
	}

	log.Info("review pass finished",
		slog.Int("reviewed", summary.Reviewed),
		slog.Int("requeued", summary.Requeued),
		slog.Int("left_parked", summary.LeftParked))
	return summary, nil
}
