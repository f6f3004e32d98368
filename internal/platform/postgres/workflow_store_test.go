//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/platform/postgres"
	"github.com/glintlabs/glint-api/internal/store"
	"github.com/glintlabs/glint-api/internal/testdb"
)

// newTestWorkflow builds a two step workflow due at activateAt.
func newTestWorkflow(t *testing.T, name string, activateAt time.Time) *domain.Workflow {
	t.Helper()

	payload := json.RawMessage(`{"report_id":"monthly-revenue"}`)
	steps := []domain.WorkflowStep{
		{
			Name: "collect",
			Tasks: []domain.TaskSpec{
				{Type: "data_export", Payload: payload, Priority: domain.TaskPriorityNormal, MaxAttempts: 3},
			},
		},
		{
			Name: "publish",
			Tasks: []domain.TaskSpec{
				{Type: "report_generation", Payload: payload, Priority: domain.TaskPriorityHigh, MaxAttempts: 3},
			},
		},
	}

	workflow, err := domain.NewWorkflow(name, steps, activateAt, activateAt)
	require.NoError(t, err)
	return workflow
}

func TestPostgresWorkflowStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		workflowStore := postgres.NewPostgresWorkflowStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		t.Run("round trips steps through jsonb", func(t *testing.T) {
			workflow := newTestWorkflow(t, "monthly-close", now)
			require.NoError(t, workflowStore.Create(ctx, workflow))

			got, err := workflowStore.GetByID(ctx, workflow.ID)
			require.NoError(t, err)

			assert.Equal(t, workflow.ID, got.ID)
			assert.Equal(t, "monthly-close", got.Name)
			assert.Equal(t, domain.WorkflowStatusScheduled, got.Status)
			assert.Equal(t, 0, got.CurrentStepIndex)
			require.Len(t, got.Steps, 2)
			assert.Equal(t, "collect", got.Steps[0].Name)
			assert.Equal(t, "data_export", got.Steps[0].Tasks[0].Type)
			assert.Equal(t, domain.TaskPriorityHigh, got.Steps[1].Tasks[0].Priority)
			assert.WithinDuration(t, now, got.ActivateAt, time.Second)
			assert.WithinDuration(t, now, got.LastProgressAt, time.Second)
		})

		t.Run("duplicate id is rejected", func(t *testing.T) {
			workflow := newTestWorkflow(t, "monthly-close", now)
			require.NoError(t, workflowStore.Create(ctx, workflow))

			err := workflowStore.Create(ctx, workflow)
			assert.ErrorIs(t, err, store.ErrWorkflowExists)
		})

		t.Run("invalid workflow is rejected", func(t *testing.T) {
			workflow := newTestWorkflow(t, "monthly-close", now)
			workflow.Name = ""

			err := workflowStore.Create(ctx, workflow)
			assert.ErrorIs(t, err, store.ErrInvalidEntity)
		})

		t.Run("missing workflow maps to not found", func(t *testing.T) {
			_, err := workflowStore.GetByID(ctx, uuid.New())
			assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
		})
	})
}

func TestPostgresWorkflowStore_ListDueScheduled(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		workflowStore := postgres.NewPostgresWorkflowStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		older := newTestWorkflow(t, "older", now.Add(-2*time.Hour))
		newer := newTestWorkflow(t, "newer", now.Add(-time.Hour))
		future := newTestWorkflow(t, "future", now.Add(time.Hour))
		for _, workflow := range []*domain.Workflow{newer, older, future} {
			require.NoError(t, workflowStore.Create(ctx, workflow))
		}

		due, err := workflowStore.ListDueScheduled(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 2, "Future workflow must not be listed")
		assert.Equal(t, older.ID, due[0].ID, "Due workflows list oldest activation first")
		assert.Equal(t, newer.ID, due[1].ID)

		limited, err := workflowStore.ListDueScheduled(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, older.ID, limited[0].ID)
	})
}

func TestPostgresWorkflowStore_Activate(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		workflowStore := postgres.NewPostgresWorkflowStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		workflow := newTestWorkflow(t, "monthly-close", now.Add(-time.Hour))
		require.NoError(t, workflowStore.Create(ctx, workflow))

		// Fan-out bookkeeping: record the task ids created for step zero.
		fannedID := uuid.New()
		workflow.Steps[0].TaskIDs = []uuid.UUID{fannedID}

		activatedAt := now
		require.NoError(t, workflowStore.Activate(ctx, workflow, activatedAt))

		got, err := workflowStore.GetByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowStatusActive, got.Status)
		require.Len(t, got.Steps[0].TaskIDs, 1)
		assert.Equal(t, fannedID, got.Steps[0].TaskIDs[0])
		assert.WithinDuration(t, activatedAt, got.LastProgressAt, time.Second)

		// A second activation attempt finds no scheduled row.
		err = workflowStore.Activate(ctx, workflow, activatedAt)
		assert.ErrorIs(t, err, store.ErrUpdateConflict)
	})
}

func TestPostgresWorkflowStore_AdvanceStep(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		workflowStore := postgres.NewPostgresWorkflowStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		workflow := newTestWorkflow(t, "monthly-close", now.Add(-time.Hour))
		require.NoError(t, workflowStore.Create(ctx, workflow))
		require.NoError(t, workflowStore.Activate(ctx, workflow, now))

		workflow.CurrentStepIndex = 1
		workflow.Steps[1].TaskIDs = []uuid.UUID{uuid.New()}
		advancedAt := now.Add(time.Minute)
		require.NoError(t, workflowStore.AdvanceStep(ctx, workflow, 0, advancedAt))

		got, err := workflowStore.GetByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CurrentStepIndex)
		require.Len(t, got.Steps[1].TaskIDs, 1)
		assert.WithinDuration(t, advancedAt, got.LastProgressAt, time.Second)

		// A concurrent pass holding the old index must not advance again.
		stale := *got
		stale.CurrentStepIndex = 1
		err = workflowStore.AdvanceStep(ctx, &stale, 0, advancedAt)
		assert.ErrorIs(t, err, store.ErrUpdateConflict)
	})
}

func TestPostgresWorkflowStore_UpdateStatus(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		workflowStore := postgres.NewPostgresWorkflowStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		t.Run("cancel from scheduled", func(t *testing.T) {
			workflow := newTestWorkflow(t, "to-cancel", now)
			require.NoError(t, workflowStore.Create(ctx, workflow))

			err := workflowStore.UpdateStatus(ctx, workflow.ID,
				domain.WorkflowStatusScheduled, domain.WorkflowStatusCancelled, now)
			require.NoError(t, err)

			got, err := workflowStore.GetByID(ctx, workflow.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.WorkflowStatusCancelled, got.Status)
		})

		t.Run("resume resets progress clock", func(t *testing.T) {
			workflow := newTestWorkflow(t, "to-resume", now.Add(-time.Hour))
			require.NoError(t, workflowStore.Create(ctx, workflow))
			require.NoError(t, workflowStore.Activate(ctx, workflow, now.Add(-time.Hour)))

			_, err := workflowStore.MarkStalled(ctx, now, now)
			require.NoError(t, err)

			resumedAt := now.Add(time.Minute)
			err = workflowStore.UpdateStatus(ctx, workflow.ID,
				domain.WorkflowStatusStalled, domain.WorkflowStatusActive, resumedAt)
			require.NoError(t, err)

			got, err := workflowStore.GetByID(ctx, workflow.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.WorkflowStatusActive, got.Status)
			assert.WithinDuration(t, resumedAt, got.LastProgressAt, time.Second,
				"Resume must reset last_progress_at or the workflow re-stalls immediately")
		})

		t.Run("invalid transition is rejected before touching the row", func(t *testing.T) {
			workflow := newTestWorkflow(t, "terminal", now)
			require.NoError(t, workflowStore.Create(ctx, workflow))

			err := workflowStore.UpdateStatus(ctx, workflow.ID,
				domain.WorkflowStatusCompleted, domain.WorkflowStatusActive, now)
			assert.ErrorIs(t, err, store.ErrInvalidEntity)
		})

		t.Run("stale expected status reports conflict", func(t *testing.T) {
			workflow := newTestWorkflow(t, "conflicted", now)
			require.NoError(t, workflowStore.Create(ctx, workflow))

			err := workflowStore.UpdateStatus(ctx, workflow.ID,
				domain.WorkflowStatusActive, domain.WorkflowStatusCancelled, now)
			assert.ErrorIs(t, err, store.ErrUpdateConflict)
		})
	})
}

func TestPostgresWorkflowStore_MarkStalled(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		workflowStore := postgres.NewPostgresWorkflowStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		stale := newTestWorkflow(t, "stale", now.Add(-8*time.Hour))
		require.NoError(t, workflowStore.Create(ctx, stale))
		require.NoError(t, workflowStore.Activate(ctx, stale, now.Add(-8*time.Hour)))

		healthy := newTestWorkflow(t, "healthy", now.Add(-time.Minute))
		require.NoError(t, workflowStore.Create(ctx, healthy))
		require.NoError(t, workflowStore.Activate(ctx, healthy, now.Add(-time.Minute)))

		ids, err := workflowStore.MarkStalled(ctx, now.Add(-6*time.Hour), now)
		require.NoError(t, err)
		require.Len(t, ids, 1)
		assert.Equal(t, stale.ID, ids[0])

		gotStale, err := workflowStore.GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowStatusStalled, gotStale.Status)

		gotHealthy, err := workflowStore.GetByID(ctx, healthy.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowStatusActive, gotHealthy.Status)

		active, err := workflowStore.ListActive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, healthy.ID, active[0].ID)
	})
}
