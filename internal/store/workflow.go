package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint-api/internal/domain"
)

// WorkflowStore defines the interface for workflow persistence. Lifecycle
// transitions follow the same conditional-update discipline as TaskStore:
// each one names the expected prior state, so overlapping advancer passes
// cannot regress a workflow or advance it twice.
type WorkflowStore interface {
	// Create saves a new workflow to the store.
	// It handles domain validation internally.
	// Returns ErrWorkflowExists if a workflow with the same id already exists.
	Create(ctx context.Context, workflow *domain.Workflow) error

	// GetByID retrieves a workflow by its unique ID.
	// Returns ErrWorkflowNotFound if the workflow does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)

	// ListDueScheduled retrieves up to limit scheduled workflows with
	// activate_at <= now, oldest first.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Workflow, error)

	// ListActive retrieves up to limit active workflows, oldest progress
	// first, so the advancer looks at the most neglected workflows before
	// the budget runs out.
	ListActive(ctx context.Context, limit int) ([]*domain.Workflow, error)

	// Activate transitions a scheduled workflow to active, stamping
	// last_progress_at and persisting the steps (which now carry the
	// task ids fanned out for the first step).
	// Returns ErrWorkflowNotFound or ErrUpdateConflict.
	Activate(ctx context.Context, workflow *domain.Workflow, now time.Time) error

	// AdvanceStep moves an active workflow from fromIndex to the workflow's
	// CurrentStepIndex, persisting the updated steps and stamping
	// last_progress_at. The conditional update on fromIndex makes
	// concurrent advances of the same workflow collapse into one.
	// Returns ErrWorkflowNotFound or ErrUpdateConflict.
	AdvanceStep(ctx context.Context, workflow *domain.Workflow, fromIndex int, now time.Time) error

	// UpdateStatus transitions a workflow between lifecycle states,
	// conditional on the expected prior status.
	// Returns ErrWorkflowNotFound or ErrUpdateConflict.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.WorkflowStatus, now time.Time) error

	// MarkStalled flags active workflows whose last_progress_at is older
	// than staleBefore. Returns the ids of workflows flagged by this call.
	MarkStalled(ctx context.Context, staleBefore time.Time, now time.Time) ([]uuid.UUID, error)

	// WithTx returns a new WorkflowStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) WorkflowStore
}
