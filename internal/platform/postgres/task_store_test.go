//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
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

// newTestTask builds a valid pending task due at scheduledFor.
func newTestTask(t *testing.T, taskType string, scheduledFor time.Time) *domain.Task {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"report_id": uuid.New().String()})
	require.NoError(t, err)

	task, err := domain.NewTask(taskType, payload, domain.TaskPriorityNormal, 3, scheduledFor, scheduledFor)
	require.NoError(t, err)
	return task
}

// mustEnqueue inserts the task and fails the test on error.
func mustEnqueue(ctx context.Context, t *testing.T, s store.TaskStore, task *domain.Task) {
	t.Helper()
	require.NoError(t, s.Enqueue(ctx, task), "Task enqueue should succeed")
}

// mustClaimOne claims exactly one running task for transition tests.
func mustClaimOne(ctx context.Context, t *testing.T, s store.TaskStore, now time.Time) *domain.Task {
	t.Helper()

	claimed, err := s.ClaimDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "Expected exactly one claimable task")
	return claimed[0]
}

func TestPostgresTaskStore_EnqueueAndGet(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		t.Run("round trips all fields", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now)
			mustEnqueue(ctx, t, taskStore, task)

			got, err := taskStore.GetByID(ctx, task.ID)
			require.NoError(t, err)

			assert.Equal(t, task.ID, got.ID)
			assert.Equal(t, task.Type, got.Type)
			assert.JSONEq(t, string(task.Payload), string(got.Payload))
			assert.Equal(t, domain.TaskPriorityNormal, got.Priority)
			assert.Equal(t, domain.TaskStatusPending, got.Status)
			assert.Equal(t, 0, got.Attempts)
			assert.Equal(t, 3, got.MaxAttempts)
			assert.WithinDuration(t, now, got.ScheduledFor, time.Second)
			assert.Nil(t, got.LastAttemptAt)
			assert.Empty(t, got.LastError)
		})

		t.Run("duplicate id is rejected", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now)
			mustEnqueue(ctx, t, taskStore, task)

			err := taskStore.Enqueue(ctx, task)
			assert.ErrorIs(t, err, store.ErrTaskExists)
			assert.True(t, store.IsDuplicateError(err))
		})

		t.Run("invalid task is rejected", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now)
			task.Payload = json.RawMessage("not json")

			err := taskStore.Enqueue(ctx, task)
			assert.ErrorIs(t, err, store.ErrInvalidEntity)
		})

		t.Run("missing task maps to not found", func(t *testing.T) {
			_, err := taskStore.GetByID(ctx, uuid.New())
			assert.ErrorIs(t, err, store.ErrTaskNotFound)
			assert.True(t, store.IsNotFoundError(err))
		})
	})
}

func TestPostgresTaskStore_ClaimDue(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		duePending := newTestTask(t, "report_generation", now.Add(-time.Minute))
		dueHighPriority := newTestTask(t, "data_export", now.Add(-time.Minute))
		dueHighPriority.Priority = domain.TaskPriorityHigh
		futurePending := newTestTask(t, "report_generation", now.Add(time.Hour))

		for _, task := range []*domain.Task{duePending, dueHighPriority, futurePending} {
			mustEnqueue(ctx, t, taskStore, task)
		}

		t.Run("claims only due tasks in priority order", func(t *testing.T) {
			claimed, err := taskStore.ClaimDue(ctx, now, 10)
			require.NoError(t, err)
			require.Len(t, claimed, 2, "Future task must not be claimed")

			assert.Equal(t, dueHighPriority.ID, claimed[0].ID, "High priority task claims first")
			assert.Equal(t, duePending.ID, claimed[1].ID)

			for _, task := range claimed {
				assert.Equal(t, domain.TaskStatusRunning, task.Status)
				assert.Equal(t, 1, task.Attempts, "Claiming counts as an attempt")
				require.NotNil(t, task.LastAttemptAt)
				assert.WithinDuration(t, now, *task.LastAttemptAt, time.Second)
			}
		})

		t.Run("claimed tasks are not claimable again", func(t *testing.T) {
			claimed, err := taskStore.ClaimDue(ctx, now, 10)
			require.NoError(t, err)
			assert.Empty(t, claimed, "Running tasks must not be handed out twice")
		})

		t.Run("retry scheduled tasks become due again", func(t *testing.T) {
			// duePending is running after the first subtest's claim.
			next := now.Add(5 * time.Minute)
			err := taskStore.ScheduleRetry(ctx, duePending.ID, next,
				store.TaskError{Message: "upstream timeout", Class: domain.ErrorClassTransient}, now)
			require.NoError(t, err)

			claimed, err := taskStore.ClaimDue(ctx, next, 10)
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, duePending.ID, claimed[0].ID)
			assert.Equal(t, 2, claimed[0].Attempts)
		})
	})
}

func TestPostgresTaskStore_ClaimDueTypeFilter(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		now := time.Now().UTC()

		reportTask := newTestTask(t, "report_generation", now.Add(-time.Minute))
		exportTask := newTestTask(t, "data_export", now.Add(-time.Minute))
		mustEnqueue(ctx, t, taskStore, reportTask)
		mustEnqueue(ctx, t, taskStore, exportTask)

		claimed, err := taskStore.ClaimDue(ctx, now, 10, "data_export")
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, exportTask.ID, claimed[0].ID)

		remaining, err := taskStore.GetByID(ctx, reportTask.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, remaining.Status, "Filtered-out type stays pending")
	})
}

func TestPostgresTaskStore_ClaimDueContention(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)
	testdb.TruncateSchedulingTables(t, db)
	t.Cleanup(func() { testdb.TruncateSchedulingTables(t, db) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	taskStore := postgres.NewPostgresTaskStore(db, nil)
	now := time.Now().UTC()

	const total = 20
	for i := 0; i < total; i++ {
		mustEnqueue(ctx, t, taskStore, newTestTask(t, "report_generation", now.Add(-time.Minute)))
	}

	// Two claimers race on separate pool connections. SKIP LOCKED must hand
	// each due task to at most one of them.
	var wg sync.WaitGroup
	results := make([][]*domain.Task, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = taskStore.ClaimDue(ctx, now, total)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	seen := make(map[uuid.UUID]int)
	for _, batch := range results {
		for _, task := range batch {
			seen[task.ID]++
		}
	}

	assert.Len(t, seen, total, "Every due task should be claimed by someone")
	for id, count := range seen {
		assert.Equal(t, 1, count, "Task %s claimed more than once", id)
	}
}

func TestPostgresTaskStore_Transitions(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		t.Run("complete marks running task succeeded", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now.Add(-time.Minute))
			mustEnqueue(ctx, t, taskStore, task)
			claimed := mustClaimOne(ctx, t, taskStore, now)

			require.NoError(t, taskStore.Complete(ctx, claimed.ID, now))

			got, err := taskStore.GetByID(ctx, claimed.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
		})

		t.Run("complete on finished task reports conflict", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now.Add(-time.Minute))
			mustEnqueue(ctx, t, taskStore, task)
			claimed := mustClaimOne(ctx, t, taskStore, now)

			require.NoError(t, taskStore.Complete(ctx, claimed.ID, now))

			err := taskStore.Complete(ctx, claimed.ID, now)
			assert.ErrorIs(t, err, store.ErrUpdateConflict)
			assert.True(t, store.IsUpdateConflictError(err))
		})

		t.Run("complete on missing task reports not found", func(t *testing.T) {
			err := taskStore.Complete(ctx, uuid.New(), now)
			assert.ErrorIs(t, err, store.ErrTaskNotFound)
		})

		t.Run("schedule retry records error and next attempt time", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now.Add(-time.Minute))
			mustEnqueue(ctx, t, taskStore, task)
			claimed := mustClaimOne(ctx, t, taskStore, now)

			next := now.Add(5 * time.Minute)
			taskErr := store.TaskError{Message: "connection reset", Class: domain.ErrorClassTransient}
			require.NoError(t, taskStore.ScheduleRetry(ctx, claimed.ID, next, taskErr, now))

			got, err := taskStore.GetByID(ctx, claimed.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusRetryScheduled, got.Status)
			assert.WithinDuration(t, next, got.ScheduledFor, time.Second)
			assert.Equal(t, "connection reset", got.LastError)
			assert.Equal(t, domain.ErrorClassTransient, got.LastErrorClass)
			assert.Equal(t, 1, got.Attempts, "Retry scheduling must not change the attempt count")
		})

		t.Run("mark dead letter parks the task", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now.Add(-time.Minute))
			mustEnqueue(ctx, t, taskStore, task)
			claimed := mustClaimOne(ctx, t, taskStore, now)

			taskErr := store.TaskError{Message: "upstream 503", Class: domain.ErrorClassTransient}
			require.NoError(t, taskStore.MarkDeadLetter(ctx, claimed.ID, taskErr, now))

			got, err := taskStore.GetByID(ctx, claimed.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusDeadLetter, got.Status)
			assert.Equal(t, "upstream 503", got.LastError)
		})

		t.Run("mark permanent failure is terminal", func(t *testing.T) {
			task := newTestTask(t, "report_generation", now.Add(-time.Minute))
			mustEnqueue(ctx, t, taskStore, task)
			claimed := mustClaimOne(ctx, t, taskStore, now)

			taskErr := store.TaskError{Message: "report template deleted", Class: domain.ErrorClassPermanent}
			require.NoError(t, taskStore.MarkPermanentFailure(ctx, claimed.ID, taskErr, now))

			got, err := taskStore.GetByID(ctx, claimed.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusFailedPermanent, got.Status)
			assert.Equal(t, domain.ErrorClassPermanent, got.LastErrorClass)

			claimed2, err := taskStore.ClaimDue(ctx, now.Add(time.Hour), 10)
			require.NoError(t, err)
			for _, c := range claimed2 {
				assert.NotEqual(t, task.ID, c.ID, "Permanently failed task must never be claimed")
			}
		})
	})
}

func TestPostgresTaskStore_RequeueDeadLetter(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		task := newTestTask(t, "report_generation", now.Add(-time.Minute))
		mustEnqueue(ctx, t, taskStore, task)
		claimed := mustClaimOne(ctx, t, taskStore, now)

		taskErr := store.TaskError{Message: "upstream 503", Class: domain.ErrorClassTransient}
		require.NoError(t, taskStore.MarkDeadLetter(ctx, claimed.ID, taskErr, now))

		later := now.Add(45 * time.Minute)
		require.NoError(t, taskStore.RequeueDeadLetter(ctx, claimed.ID, later))

		got, err := taskStore.GetByID(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts, "Requeue grants a fresh retry budget")
		assert.WithinDuration(t, later, got.ScheduledFor, time.Second)
		assert.Equal(t, "upstream 503", got.LastError, "Requeue keeps the failure lineage")

		// A second requeue must not double-apply.
		err = taskStore.RequeueDeadLetter(ctx, claimed.ID, later)
		assert.ErrorIs(t, err, store.ErrUpdateConflict)
	})
}

func TestPostgresTaskStore_ReleaseStuck(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		longAgo := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Millisecond)
		now := time.Now().UTC().Truncate(time.Millisecond)

		// Claimed two hours ago and never finished: has retries left.
		stuckWithBudget := newTestTask(t, "report_generation", longAgo)
		mustEnqueue(ctx, t, taskStore, stuckWithBudget)
		_ = mustClaimOne(ctx, t, taskStore, longAgo)

		// Claimed two hours ago on its final attempt.
		stuckExhausted := newTestTask(t, "data_export", longAgo)
		mustEnqueue(ctx, t, taskStore, stuckExhausted)
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'running', attempts = max_attempts, last_attempt_at = $2 WHERE id = $1`,
			stuckExhausted.ID, longAgo)
		require.NoError(t, err)

		// Claimed just now: not stuck.
		fresh := newTestTask(t, "report_generation", now.Add(-time.Minute))
		mustEnqueue(ctx, t, taskStore, fresh)
		claimedFresh, err := taskStore.ClaimDue(ctx, now, 10, "report_generation")
		require.NoError(t, err)
		require.Len(t, claimedFresh, 1)

		released, deadLettered, err := taskStore.ReleaseStuck(ctx, now.Add(-30*time.Minute), now)
		require.NoError(t, err)
		assert.Equal(t, 1, released)
		assert.Equal(t, 1, deadLettered)

		gotBudget, err := taskStore.GetByID(ctx, stuckWithBudget.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, gotBudget.Status)

		gotExhausted, err := taskStore.GetByID(ctx, stuckExhausted.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusDeadLetter, gotExhausted.Status)
		assert.Equal(t, "task claim expired before completion", gotExhausted.LastError)
		assert.Equal(t, domain.ErrorClassTransient, gotExhausted.LastErrorClass)

		gotFresh, err := taskStore.GetByID(ctx, claimedFresh[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusRunning, gotFresh.Status, "Recent claims must survive the sweep")
	})
}

func TestPostgresTaskStore_ListAndCount(t *testing.T) {
	t.Parallel()

	db := testdb.GetTestDBWithT(t)
	testdb.SetupTestDatabaseSchema(t, db)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		taskStore := postgres.NewPostgresTaskStore(tx, nil)
		now := time.Now().UTC().Truncate(time.Millisecond)

		first := newTestTask(t, "report_generation", now.Add(-3*time.Minute))
		second := newTestTask(t, "report_generation", now.Add(-2*time.Minute))
		pending := newTestTask(t, "report_generation", now.Add(time.Hour))
		for _, task := range []*domain.Task{first, second, pending} {
			mustEnqueue(ctx, t, taskStore, task)
		}

		taskErr := store.TaskError{Message: "boom", Class: domain.ErrorClassTransient}
		claimed, err := taskStore.ClaimDue(ctx, now, 2)
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		require.NoError(t, taskStore.MarkDeadLetter(ctx, first.ID, taskErr, now.Add(-2*time.Minute)))
		require.NoError(t, taskStore.MarkDeadLetter(ctx, second.ID, taskErr, now.Add(-time.Minute)))

		t.Run("list dead letter oldest first", func(t *testing.T) {
			parked, err := taskStore.ListDeadLetter(ctx, 10)
			require.NoError(t, err)
			require.Len(t, parked, 2)
			assert.Equal(t, first.ID, parked[0].ID)
			assert.Equal(t, second.ID, parked[1].ID)

			limited, err := taskStore.ListDeadLetter(ctx, 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
		})

		t.Run("get by ids fetches present rows only", func(t *testing.T) {
			got, err := taskStore.GetByIDs(ctx, []uuid.UUID{first.ID, uuid.New(), pending.ID})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			empty, err := taskStore.GetByIDs(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})

		t.Run("count by status", func(t *testing.T) {
			counts, err := taskStore.CountByStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, counts[domain.TaskStatusDeadLetter])
			assert.Equal(t, 1, counts[domain.TaskStatusPending])
		})
	})
}
