package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/logger"
	"github.com/glintlabs/glint-api/internal/store"
)

// taskColumns is the canonical column list for scanning tasks.
const taskColumns = `id, type, payload, priority, status, attempts, max_attempts,
	scheduled_for, last_attempt_at, last_error, last_error_class, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend. All lifecycle
// transitions are single conditional UPDATEs so overlapping passes
// coordinate through the database, never through process state.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Enqueue implements store.TaskStore.Enqueue
// It saves a new task to the database, handling domain validation.
// Returns store.ErrTaskExists if a task with the same id already exists.
func (s *PostgresTaskStore) Enqueue(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during enqueue",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, type, payload, priority, status, attempts, max_attempts,
			scheduled_for, last_attempt_at, last_error, last_error_class, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Type,
		[]byte(task.Payload),
		int(task.Priority),
		string(task.Status),
		task.Attempts,
		task.MaxAttempts,
		task.ScheduledFor,
		task.LastAttemptAt,
		nullableString(task.LastError),
		nullableString(string(task.LastErrorClass)),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: id %s", store.ErrTaskExists, task.ID)
		}

		log.Error("failed to enqueue task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.Type))
		return MapError(err)
	}

	log.Debug("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.Time("scheduled_for", task.ScheduledFor))
	return nil
}

// ClaimDue implements store.TaskStore.ClaimDue
// The claim is one statement: a locked subselect picks the due rows, the
// update flips them to running and bumps attempts, and the outer select
// restores claim order (UPDATE ... RETURNING does not preserve it).
// FOR UPDATE SKIP LOCKED makes concurrent claims disjoint without retries.
func (s *PostgresTaskStore) ClaimDue(
	ctx context.Context,
	now time.Time,
	limit int,
	types ...string,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	typeFilter := ""
	args := []any{now.UTC(), limit}
	if len(types) > 0 {
		typeFilter = "AND type = ANY($3)"
		args = append(args, types)
	}

	query := fmt.Sprintf(`
		WITH due AS (
			SELECT id
			FROM tasks
			WHERE status IN ('pending', 'retry_scheduled')
			  AND scheduled_for <= $1
			  %s
			ORDER BY priority DESC, scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE tasks
			SET status = 'running',
				attempts = attempts + 1,
				last_attempt_at = $1,
				updated_at = $1
			FROM due
			WHERE tasks.id = due.id
			RETURNING tasks.id, tasks.type, tasks.payload, tasks.priority, tasks.status,
				tasks.attempts, tasks.max_attempts, tasks.scheduled_for, tasks.last_attempt_at,
				tasks.last_error, tasks.last_error_class, tasks.created_at, tasks.updated_at
		)
		SELECT * FROM claimed
		ORDER BY priority DESC, scheduled_for ASC
	`, typeFilter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to claim due tasks",
			slog.String("error", err.Error()),
			slog.Int("limit", limit))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		log.Error("failed to scan claimed tasks",
			slog.String("error", err.Error()))
		return nil, err
	}

	if len(tasks) > 0 {
		log.Debug("claimed due tasks", slog.Int("count", len(tasks)))
	}
	return tasks, nil
}

// Complete implements store.TaskStore.Complete
func (s *PostgresTaskStore) Complete(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'succeeded', updated_at = $2
		WHERE id = $1 AND status = 'running'
	`
	return s.transition(ctx, "complete", id, query, id, now.UTC())
}

// ScheduleRetry implements store.TaskStore.ScheduleRetry
func (s *PostgresTaskStore) ScheduleRetry(
	ctx context.Context,
	id uuid.UUID,
	nextTime time.Time,
	taskErr store.TaskError,
	now time.Time,
) error {
	query := `
		UPDATE tasks
		SET status = 'retry_scheduled',
			scheduled_for = $2,
			last_error = $3,
			last_error_class = $4,
			updated_at = $5
		WHERE id = $1 AND status = 'running'
	`
	return s.transition(ctx, "schedule_retry", id, query,
		id, nextTime.UTC(), taskErr.Message, string(taskErr.Class), now.UTC())
}

// MarkDeadLetter implements store.TaskStore.MarkDeadLetter
func (s *PostgresTaskStore) MarkDeadLetter(
	ctx context.Context,
	id uuid.UUID,
	taskErr store.TaskError,
	now time.Time,
) error {
	query := `
		UPDATE tasks
		SET status = 'dead_letter',
			last_error = $2,
			last_error_class = $3,
			updated_at = $4
		WHERE id = $1 AND status = 'running'
	`
	return s.transition(ctx, "mark_dead_letter", id, query,
		id, taskErr.Message, string(taskErr.Class), now.UTC())
}

// MarkPermanentFailure implements store.TaskStore.MarkPermanentFailure
func (s *PostgresTaskStore) MarkPermanentFailure(
	ctx context.Context,
	id uuid.UUID,
	taskErr store.TaskError,
	now time.Time,
) error {
	query := `
		UPDATE tasks
		SET status = 'failed_permanent',
			last_error = $2,
			last_error_class = $3,
			updated_at = $4
		WHERE id = $1 AND status = 'running'
	`
	return s.transition(ctx, "mark_permanent_failure", id, query,
		id, taskErr.Message, string(taskErr.Class), now.UTC())
}

// RequeueDeadLetter implements store.TaskStore.RequeueDeadLetter
// The previous last_error is kept so the requeue reason stays inspectable
// until the next attempt overwrites it.
func (s *PostgresTaskStore) RequeueDeadLetter(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'pending',
			attempts = 0,
			scheduled_for = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'dead_letter'
	`
	return s.transition(ctx, "requeue_dead_letter", id, query, id, now.UTC())
}

// ReleaseStuck implements store.TaskStore.ReleaseStuck
// Tasks with attempts left go back to pending; exhausted ones park as
// dead_letter with a transient classification so the reviewer can still
// requeue them after the cool-off.
func (s *PostgresTaskStore) ReleaseStuck(
	ctx context.Context,
	olderThan time.Time,
	now time.Time,
) (int, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	releaseQuery := `
		UPDATE tasks
		SET status = 'pending', updated_at = $2
		WHERE status = 'running'
		  AND last_attempt_at < $1
		  AND attempts < max_attempts
	`
	releaseResult, err := s.db.ExecContext(ctx, releaseQuery, olderThan.UTC(), now.UTC())
	if err != nil {
		log.Error("failed to release stuck tasks",
			slog.String("error", err.Error()))
		return 0, 0, MapError(err)
	}
	released, err := releaseResult.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	parkQuery := `
		UPDATE tasks
		SET status = 'dead_letter',
			last_error = 'task claim expired before completion',
			last_error_class = 'transient',
			updated_at = $2
		WHERE status = 'running'
		  AND last_attempt_at < $1
		  AND attempts >= max_attempts
	`
	parkResult, err := s.db.ExecContext(ctx, parkQuery, olderThan.UTC(), now.UTC())
	if err != nil {
		log.Error("failed to park stuck tasks",
			slog.String("error", err.Error()))
		return int(released), 0, MapError(err)
	}
	parked, err := parkResult.RowsAffected()
	if err != nil {
		return int(released), 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if released > 0 || parked > 0 {
		log.Info("released stuck tasks",
			slog.Int64("released", released),
			slog.Int64("dead_lettered", parked))
	}
	return int(released), int(parked), nil
}

// ListDeadLetter implements store.TaskStore.ListDeadLetter
func (s *PostgresTaskStore) ListDeadLetter(ctx context.Context, limit int) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE status = 'dead_letter'
		ORDER BY updated_at ASC
		LIMIT $1
	`, taskColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error("failed to list dead letter tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// GetByID implements store.TaskStore.GetByID
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE id = $1
	`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: id %s", store.ErrTaskNotFound, id)
		}
		return nil, MapError(err)
	}
	return task, nil
}

// GetByIDs implements store.TaskStore.GetByIDs
// Missing ids are absent from the result rather than an error.
func (s *PostgresTaskStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	log := logger.FromContextOrDefault(ctx, s.logger)

	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE id = ANY($1::uuid[])
	`, taskColumns)

	rows, err := s.db.QueryContext(ctx, query, idStrings)
	if err != nil {
		log.Error("failed to get tasks by ids",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// CountByStatus implements store.TaskStore.CountByStatus
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT status, COUNT(*)
		FROM tasks
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to count tasks by status",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// transition executes a conditional status update and distinguishes its two
// zero-row outcomes: the task is gone (ErrTaskNotFound) or it exists in a
// different status (ErrUpdateConflict). The latter is how a retried pass
// discovers the transition already happened.
func (s *PostgresTaskStore) transition(
	ctx context.Context,
	operation string,
	id uuid.UUID,
	query string,
	args ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("task transition failed",
			slog.String("operation", operation),
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("task", operation, "transition failed", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		log.Debug("task transition applied",
			slog.String("operation", operation),
			slog.String("task_id", id.String()))
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if IsNotFoundError(MapError(err)) {
			return fmt.Errorf("%w: id %s", store.ErrTaskNotFound, id)
		}
		return MapError(err)
	}

	log.Warn("task transition skipped, unexpected prior status",
		slog.String("operation", operation),
		slog.String("task_id", id.String()),
		slog.String("current_status", status))
	return fmt.Errorf("%w: task %s is %s", store.ErrUpdateConflict, id, status)
}

// scanner abstracts *sql.Row and *sql.Rows for task scanning.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row.
func scanTask(row scanner) (*domain.Task, error) {
	var task domain.Task
	var payload []byte
	var priority int
	var status string
	var lastAttemptAt sql.NullTime
	var lastError sql.NullString
	var lastErrorClass sql.NullString

	err := row.Scan(
		&task.ID,
		&task.Type,
		&payload,
		&priority,
		&status,
		&task.Attempts,
		&task.MaxAttempts,
		&task.ScheduledFor,
		&lastAttemptAt,
		&lastError,
		&lastErrorClass,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = payload
	task.Priority = domain.TaskPriority(priority)
	task.Status = domain.TaskStatus(status)
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		task.LastAttemptAt = &t
	}
	task.LastError = lastError.String
	task.LastErrorClass = domain.ErrorClass(lastErrorClass.String)

	return &task, nil
}

// scanTasks reads all task rows, propagating iteration errors.
func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// nullableString converts empty strings to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
