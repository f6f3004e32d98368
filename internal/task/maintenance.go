package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/store"
)

// JanitorConfig holds configuration for maintenance passes.
type JanitorConfig struct {
	// StuckTaskAge is how long a claim may hold a task in running before
	// the sweep releases it.
	StuckTaskAge time.Duration

	// PassBudget bounds one maintenance pass. The sweep is a single bulk
	// statement, so the budget is a context deadline: the statement either
	// finishes within it or aborts whole.
	PassBudget time.Duration
}

// DefaultJanitorConfig returns a JanitorConfig with reasonable defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		StuckTaskAge: 30 * time.Minute,
		PassBudget:   5 * time.Minute,
	}
}

// MaintenanceSummary reports what one maintenance pass did.
type MaintenanceSummary struct {
	// StuckReleased is the number of expired claims returned to pending.
	StuckReleased int `json:"stuckReleased"`

	// StuckDeadLettered is the number of expired claims parked because
	// their attempts were already spent.
	StuckDeadLettered int `json:"stuckDeadLettered"`

	// StatusCounts is the census of tasks per status at pass time.
	StatusCounts map[domain.TaskStatus]int `json:"statusCounts"`
}

// Janitor is the daily maintenance pass: a bulk stuck-claim sweep plus a
// status census for operators. The dispatcher runs the same sweep before
// every pass; the janitor exists so a quiet deployment with no dispatch
// traffic still gets cleaned up, and so operators get a periodic census in
// the logs.
type Janitor struct {
	store  store.TaskStore
	config JanitorConfig
	logger *slog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(taskStore store.TaskStore, config JanitorConfig, log *slog.Logger) *Janitor {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = DefaultJanitorConfig().StuckTaskAge
	}
	if config.PassBudget <= 0 {
		config.PassBudget = DefaultJanitorConfig().PassBudget
	}

	return &Janitor{
		store:  taskStore,
		config: config,
		logger: log.With(slog.String("component", "janitor")),
	}
}

// RunPass sweeps expired claims and takes a status census. Unlike the
// dispatcher's best-effort pre-pass sweep, a failure here is an
// OrchestrationError: maintenance has nothing else to fall back on.
func (j *Janitor) RunPass(ctx context.Context, now time.Time) (MaintenanceSummary, error) {
	log := logger.FromContextOrDefault(ctx, j.logger)
	summary := MaintenanceSummary{}

	ctx, cancel := context.WithTimeout(ctx, j.config.PassBudget)
	defer cancel()

	released, parked, err := j.store.ReleaseStuck(ctx, now.Add(-j.config.StuckTaskAge), now)
	if err != nil {
		return summary, NewOrchestrationError("maintenance", "release_stuck", err)
	}
	summary.StuckReleased = released
	summary.StuckDeadLettered = parked

	counts, err := j.store.CountByStatus(ctx)
	if err != nil {
		return summary, NewOrchestrationError("maintenance", "count_by_status", err)
	}
	summary.StatusCounts = counts

	log.Info("maintenance pass finished",
		slog.Int("stuck_released", released),
		slog.Int("stuck_dead_lettered", parked),
		slog.Int("pending", counts[domain.TaskStatusPending]),
		slog.Int("running", counts[domain.TaskStatusRunning]),
		slog.Int("retry_scheduled", counts[domain.TaskStatusRetryScheduled]),
		slog.Int("dead_letter", counts[domain.TaskStatusDeadLetter]),
		slog.Int("failed_permanent", counts[domain.TaskStatusFailedPermanent]),
		slog.Int("succeeded", counts[domain.TaskStatusSucceeded]))
	return summary, nil
}
