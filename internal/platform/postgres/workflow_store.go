package postgres

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
	"github.com/glintlabs/glint-api/internal/store"
)

// workflowColumns is the canonical column list for scanning workflows.
const workflowColumns = `id, name, status, steps, current_step_index,
	activate_at, last_progress_at, created_at, updated_at`

// PostgresWorkflowStore implements the store.WorkflowStore interface
// using a PostgreSQL database as the storage backend. Steps live in a
// jsonb column; lifecycle and step-index changes are conditional UPDATEs
// keyed on the expected prior state.
type PostgresWorkflowStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkflowStore creates a new PostgreSQL implementation of the WorkflowStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresWorkflowStore(db store.DBTX, logger *slog.Logger) *PostgresWorkflowStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresWorkflowStore{
		db:     db,
		logger: logger.With(slog.String("component", "workflow_store")),
	}
}

// Ensure PostgresWorkflowStore implements store.WorkflowStore interface
var _ store.WorkflowStore = (*PostgresWorkflowStore)(nil)

// WithTx implements store.WorkflowStore.WithTx
func (s *PostgresWorkflowStore) WithTx(tx *sql.Tx) store.WorkflowStore {
	return &PostgresWorkflowStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.WorkflowStore.Create
// Returns store.ErrWorkflowExists if a workflow with the same id already exists.
func (s *PostgresWorkflowStore) Create(ctx context.Context, workflow *domain.Workflow) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := workflow.Validate(); err != nil {
		log.Warn("workflow validation failed during create",
			slog.String("error", err.Error()),
			slog.String("workflow_id", workflow.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow steps: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, status, steps, current_step_index,
			activate_at, last_progress_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		workflow.ID,
		workflow.Name,
		string(workflow.Status),
		steps,
		workflow.CurrentStepIndex,
		workflow.ActivateAt,
		workflow.LastProgressAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: id %s", store.ErrWorkflowExists, workflow.ID)
		}

		log.Error("failed to create workflow",
			slog.String("error", err.Error()),
			slog.String("workflow_id", workflow.ID.String()),
			slog.String("workflow_name", workflow.Name))
		return MapError(err)
	}

	log.Info("workflow created",
		slog.String("workflow_id", workflow.ID.String()),
		slog.String("workflow_name", workflow.Name),
		slog.Time("activate_at", workflow.ActivateAt))
	return nil
}

// GetByID implements store.WorkflowStore.GetByID
// Returns store.ErrWorkflowNotFound if the workflow does not exist.
func (s *PostgresWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM workflows
		WHERE id = $1
	`, workflowColumns)

	workflow, err := scanWorkflow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: id %s", store.ErrWorkflowNotFound, id)
		}
		return nil, MapError(err)
	}
	return workflow, nil
}

// ListDueScheduled implements store.WorkflowStore.ListDueScheduled
func (s *PostgresWorkflowStore) ListDueScheduled(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.Workflow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM workflows
		WHERE status = 'scheduled' AND activate_at <= $1
		ORDER BY activate_at ASC
		LIMIT $2
	`, workflowColumns)

	return s.list(ctx, query, now.UTC(), limit)
}

// ListActive implements store.WorkflowStore.ListActive
func (s *PostgresWorkflowStore) ListActive(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM workflows
		WHERE status = 'active'
		ORDER BY last_progress_at ASC
		LIMIT $1
	`, workflowColumns)

	return s.list(ctx, query, limit)
}

// Activate implements store.WorkflowStore.Activate
// The steps written here carry the task ids fanned out for the first step,
// so activation and fan-out bookkeeping land in one statement.
func (s *PostgresWorkflowStore) Activate(
	ctx context.Context,
	workflow *domain.Workflow,
	now time.Time,
) error {
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow steps: %w", err)
	}

	query := `
		UPDATE workflows
		SET status = 'active',
			steps = $2,
			last_progress_at = $3,
			updated_at = $3
		WHERE id = $1 AND status = 'scheduled'
	`
	return s.transition(ctx, "activate", workflow.ID, query, workflow.ID, steps, now.UTC())
}

// AdvanceStep implements store.WorkflowStore.AdvanceStep
// The condition on fromIndex is what makes advancement monotonic under
// concurrent passes: the second pass finds no row at the old index.
func (s *PostgresWorkflowStore) AdvanceStep(
	ctx context.Context,
	workflow *domain.Workflow,
	fromIndex int,
	now time.Time,
) error {
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow steps: %w", err)
	}

	query := `
		UPDATE workflows
		SET current_step_index = $2,
			steps = $3,
			last_progress_at = $4,
			updated_at = $4
		WHERE id = $1 AND status = 'active' AND current_step_index = $5
	`
	return s.transition(ctx, "advance_step", workflow.ID, query,
		workflow.ID, workflow.CurrentStepIndex, steps, now.UTC(), fromIndex)
}

// UpdateStatus implements store.WorkflowStore.UpdateStatus
// Transitions into active also reset last_progress_at; a resumed workflow
// must not be immediately re-flagged as stalled.
func (s *PostgresWorkflowStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.WorkflowStatus,
	now time.Time,
) error {
	if !domain.ValidWorkflowTransition(from, to) {
		return fmt.Errorf("%w: workflow transition %s -> %s",
			store.ErrInvalidEntity, from, to)
	}

	query := `
		UPDATE workflows
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	if to == domain.WorkflowStatusActive {
		query = `
			UPDATE workflows
			SET status = $3, last_progress_at = $4, updated_at = $4
			WHERE id = $1 AND status = $2
		`
	}

	return s.transition(ctx, "update_status", id, query,
		id, string(from), string(to), now.UTC())
}

// MarkStalled implements store.WorkflowStore.MarkStalled
func (s *PostgresWorkflowStore) MarkStalled(
	ctx context.Context,
	staleBefore time.Time,
	now time.Time,
) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE workflows
		SET status = 'stalled', updated_at = $2
		WHERE status = 'active' AND last_progress_at < $1
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, staleBefore.UTC(), now.UTC())
	if err != nil {
		log.Error("failed to mark stalled workflows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stalled workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stalled workflow ids: %w", err)
	}

	if len(ids) > 0 {
		log.Warn("workflows flagged as stalled", slog.Int("count", len(ids)))
	}
	return ids, nil
}

// list runs a workflow select and scans the results.
func (s *PostgresWorkflowStore) list(ctx context.Context, query string, args ...any) ([]*domain.Workflow, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list workflows",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var workflows []*domain.Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		workflows = append(workflows, workflow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}

	return workflows, nil
}

// transition executes a conditional workflow update, mapping the zero-row
// case to ErrWorkflowNotFound or ErrUpdateConflict.
func (s *PostgresWorkflowStore) transition(
	ctx context.Context,
	operation string,
	id uuid.UUID,
	query string,
	args ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("workflow transition failed",
			slog.String("operation", operation),
			slog.String("workflow_id", id.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("workflow", operation, "transition failed", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		log.Debug("workflow transition applied",
			slog.String("operation", operation),
			slog.String("workflow_id", id.String()))
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if IsNotFoundError(MapError(err)) {
			return fmt.Errorf("%w: id %s", store.ErrWorkflowNotFound, id)
		}
		return MapError(err)
	}

	log.Warn("workflow transition skipped, unexpected prior state",
		slog.String("operation", operation),
		slog.String("workflow_id", id.String()),
		slog.String("current_status", status))
	return fmt.Errorf("%w: workflow %s is %s", store.ErrUpdateConflict, id, status)
}

// scanWorkflow reads one workflow row, unmarshalling the steps column.
func scanWorkflow(row scanner) (*domain.Workflow, error) {
	var workflow domain.Workflow
	var status string
	var steps []byte

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&status,
		&steps,
		&workflow.CurrentStepIndex,
		&workflow.ActivateAt,
		&workflow.LastProgressAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Status = domain.WorkflowStatus(status)
	if err := json.Unmarshal(steps, &workflow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow steps: %w", err)
	}

	return &workflow, nil
}
