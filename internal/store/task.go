package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint-api/internal/domain"
)

// TaskError carries a task failure into the store: the message that gets
// persisted as last_error and the classification the reviewer later consults.
type TaskError struct {
	Message string
	Class   domain.ErrorClass
}

// TaskStore defines the interface for task persistence and the atomic
// lifecycle transitions the engine is built on. Every mutation is keyed by
// task id plus expected prior status, so overlapping passes can never
// double-apply a transition. Callers supply now explicitly; implementations
// never read the wall clock.
type TaskStore interface {
	// Enqueue saves a new task to the store.
	// It handles domain validation internally.
	// Returns ErrTaskExists if a task with the same id already exists.
	Enqueue(ctx context.Context, task *domain.Task) error

	// ClaimDue atomically claims up to limit due tasks: rows in status
	// pending or retry_scheduled with scheduled_for <= now flip to running
	// in a single conditional update that also increments attempts and
	// stamps last_attempt_at. Two concurrent calls never claim the same
	// task. Claimed tasks are returned ordered by priority descending,
	// then scheduled_for ascending. An empty types list claims any type.
	ClaimDue(ctx context.Context, now time.Time, limit int, types ...string) ([]*domain.Task, error)

	// Complete transitions a running task to succeeded.
	// Returns ErrTaskNotFound if the task does not exist, or
	// ErrUpdateConflict if it is not running.
	Complete(ctx context.Context, id uuid.UUID, now time.Time) error

	// ScheduleRetry transitions a running task to retry_scheduled with the
	// given next eligible time, recording the classified error.
	// Returns ErrTaskNotFound or ErrUpdateConflict as Complete does.
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextTime time.Time, taskErr TaskError, now time.Time) error

	// MarkDeadLetter parks a running task as dead_letter, recording the
	// classified error for later review.
	// Returns ErrTaskNotFound or ErrUpdateConflict as Complete does.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, taskErr TaskError, now time.Time) error

	// MarkPermanentFailure transitions a running task to failed_permanent,
	// recording the classified error.
	// Returns ErrTaskNotFound or ErrUpdateConflict as Complete does.
	MarkPermanentFailure(ctx context.Context, id uuid.UUID, taskErr TaskError, now time.Time) error

	// RequeueDeadLetter reopens a dead_letter task: attempts reset to zero,
	// status back to pending, scheduled_for set to now. This is the
	// reviewer's transition; the conditional update makes it idempotent
	// across overlapping review passes.
	// Returns ErrTaskNotFound or ErrUpdateConflict.
	RequeueDeadLetter(ctx context.Context, id uuid.UUID, now time.Time) error

	// ReleaseStuck finds running tasks whose claim looks abandoned
	// (last_attempt_at older than olderThan) and returns them to the queue:
	// pending when attempts remain, dead_letter otherwise. Returns how many
	// went each way.
	ReleaseStuck(ctx context.Context, olderThan time.Time, now time.Time) (released int, deadLettered int, err error)

	// ListDeadLetter retrieves up to limit dead_letter tasks, oldest
	// update first, so the reviewer works through the backlog in order.
	ListDeadLetter(ctx context.Context, limit int) ([]*domain.Task, error)

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetByIDs retrieves the tasks with the given ids. Missing ids are
	// simply absent from the result; the caller decides whether that is
	// an error.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error)

	// CountByStatus returns the number of tasks in each status. Statuses
	// with no tasks are omitted.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
