package task

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint-api/internal/domain"
	"github.com/glintlabs/glint-api/internal/store"
)

// MockTaskStore implements store.TaskStore for testing. The default
// behavior is an in-memory model of the real store, close enough for
// pass-level tests: claims filter on due pending/retry_scheduled rows,
// transitions are CAS'd on the expected prior status, and conflicts
// surface as store.ErrUpdateConflict. Individual methods can be overridden
// through their Fn fields to inject failures.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	EnqueueFn              func(ctx context.Context, t *domain.Task) error
	ClaimDueFn             func(ctx context.Context, now time.Time, limit int, types ...string) ([]*domain.Task, error)
	CompleteFn             func(ctx context.Context, id uuid.UUID, now time.Time) error
	ScheduleRetryFn        func(ctx context.Context, id uuid.UUID, nextTime time.Time, taskErr store.TaskError, now time.Time) error
	MarkDeadLetterFn       func(ctx context.Context, id uuid.UUID, taskErr store.TaskError, now time.Time) error
	MarkPermanentFailureFn func(ctx context.Context, id uuid.UUID, taskErr store.TaskError, now time.Time) error
	RequeueDeadLetterFn    func(ctx context.Context, id uuid.UUID, now time.Time) error
	ReleaseStuckFn         func(ctx context.Context, olderThan, now time.Time) (int, int, error)
	ListDeadLetterFn       func(ctx context.Context, limit int) ([]*domain.Task, error)
	GetByIDFn              func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	GetByIDsFn             func(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error)
	CountByStatusFn        func(ctx context.Context) (map[domain.TaskStatus]int, error)
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Ensure MockTaskStore implements store.TaskStore
var _ store.TaskStore = (*MockTaskStore)(nil)

// Snapshot returns a copy of the stored task, or nil if absent. Test
// helper; not part of store.TaskStore.
func (s *MockTaskStore) Snapshot(id uuid.UUID) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	copied := *t
	return &copied
}

// Enqueue implements store.TaskStore.Enqueue
func (s *MockTaskStore) Enqueue(ctx context.Context, t *domain.Task) error {
	if s.EnqueueFn != nil {
		return s.EnqueueFn(ctx, t)
	}

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("%w: id %s", store.ErrTaskExists, t.ID)
	}

	copied := *t
	s.tasks[t.ID] = &copied
	return nil
}

// ClaimDue implements store.TaskStore.ClaimDue
func (s *MockTaskStore) ClaimDue(
	ctx context.Context,
	now time.Time,
	limit int,
	types ...string,
) ([]*domain.Task, error) {
	if s.ClaimDueFn != nil {
		return s.ClaimDueFn(ctx, now, limit, types...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusRetryScheduled {
			continue
		}
		if t.ScheduledFor.After(now) {
			continue
		}
		if len(types) > 0 && !containsType(types, t.Type) {
			continue
		}
		due = append(due, t)
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.Task, 0, len(due))
	for _, t := range due {
		t.Status = domain.TaskStatusRunning
		t.Attempts++
		attemptAt := now
		t.LastAttemptAt = &attemptAt
		t.UpdatedAt = now

		copied := *t
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

// Complete implements store.TaskStore.Complete
func (s *MockTaskStore) Complete(ctx context.Context, id uuid.UUID, now time.Time) error {
	if s.CompleteFn != nil {
		return s.CompleteFn(ctx, id, now)
	}

	return s.transition(id, domain.TaskStatusRunning, func(t *domain.Task) {
		t.Status = domain.TaskStatusSucceeded
		t.UpdatedAt = now
	})
}

// ScheduleRetry implements store.TaskStore.ScheduleRetry
func (s *MockTaskStore) ScheduleRetry(
	ctx context.Context,
	id uuid.UUID,
	nextTime time.Time,
	taskErr store.TaskError,
	now time.Time,
) error {
	if s.ScheduleRetryFn != nil {
		return s.ScheduleRetryFn(ctx, id, nextTime, taskErr, now)
	}

	return s.transition(id, domain.TaskStatusRunning, func(t *domain.Task) {
		t.Status = domain.TaskStatusRetryScheduled
		t.ScheduledFor = nextTime
		t.LastError = taskErr.Message
		t.LastErrorClass = taskErr.Class
		t.UpdatedAt = now
	})
}

// MarkDeadLetter implements store.TaskStore.MarkDeadLetter
func (s *MockTaskStore) MarkDeadLetter(
	ctx context.Context,
	id uuid.UUID,
	taskErr store.TaskError,
	now time.Time,
) error {
	if s.MarkDeadLetterFn != nil {
		return s.MarkDeadLetterFn(ctx, id, taskErr, now)
	}

	return s.transition(id, domain.TaskStatusRunning, func(t *domain.Task) {
		t.Status = domain.TaskStatusDeadLetter
		t.LastError = taskErr.Message
		t.LastErrorClass = taskErr.Class
		t.UpdatedAt = now
	})
}

// MarkPermanentFailure implements store.TaskStore.MarkPermanentFailure
func (s *MockTaskStore) MarkPermanentFailure(
	ctx context.Context,
	id uuid.UUID,
	taskErr store.TaskError,
	now time.Time,
) error {
	if s.MarkPermanentFailureFn != nil {
		return s.MarkPermanentFailureFn(ctx, id, taskErr, now)
	}

	return s.transition(id, domain.TaskStatusRunning, func(t *domain.Task) {
		t.Status = domain.TaskStatusFailedPermanent
		t.LastError = taskErr.Message
		t.LastErrorClass = taskErr.Class
		t.UpdatedAt = now
	})
}

// RequeueDeadLetter implements store.TaskStore.RequeueDeadLetter
func (s *MockTaskStore) RequeueDeadLetter(ctx context.Context, id uuid.UUID, now time.Time) error {
	if s.RequeueDeadLetterFn != nil {
		return s.RequeueDeadLetterFn(ctx, id, now)
	}

	return s.transition(id, domain.TaskStatusDeadLetter, func(t *domain.Task) {
		t.Status = domain.TaskStatusPending
		t.Attempts = 0
		t.ScheduledFor = now
		t.UpdatedAt = now
	})
}

// ReleaseStuck implements store.TaskStore.ReleaseStuck
func (s *MockTaskStore) ReleaseStuck(ctx context.Context, olderThan, now time.Time) (int, int, error) {
	if s.ReleaseStuckFn != nil {
		return s.ReleaseStuckFn(ctx, olderThan, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	released, deadLettered := 0, 0
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusRunning {
			continue
		}
		if t.LastAttemptAt == nil || !t.LastAttemptAt.Before(olderThan) {
			continue
		}

		if t.Attempts < t.MaxAttempts {
			t.Status = domain.TaskStatusPending
			released++
		} else {
			t.Status = domain.TaskStatusDeadLetter
			t.LastError = "task claim expired before completion"
			t.LastErrorClass = domain.ErrorClassTransient
			deadLettered++
		}
		t.UpdatedAt = now
	}

	return released, deadLettered, nil
}

// ListDeadLetter implements store.TaskStore.ListDeadLetter
func (s *MockTaskStore) ListDeadLetter(ctx context.Context, limit int) ([]*domain.Task, error) {
	if s.ListDeadLetterFn != nil {
		return s.ListDeadLetterFn(ctx, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parked []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusDeadLetter {
			copied := *t
			parked = append(parked, &copied)
		}
	}

	sort.Slice(parked, func(i, j int) bool {
		return parked[i].UpdatedAt.Before(parked[j].UpdatedAt)
	})
	if limit > 0 && len(parked) > limit {
		parked = parked[:limit]
	}

	return parked, nil
}

// GetByID implements store.TaskStore.GetByID
func (s *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.GetByIDFn != nil {
		return s.GetByIDFn(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", store.ErrTaskNotFound, id)
	}
	copied := *t
	return &copied, nil
}

// GetByIDs implements store.TaskStore.GetByIDs
func (s *MockTaskStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error) {
	if s.GetByIDsFn != nil {
		return s.GetByIDsFn(ctx, ids)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*domain.Task
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			copied := *t
			found = append(found, &copied)
		}
	}
	return found, nil
}

// CountByStatus implements store.TaskStore.CountByStatus
func (s *MockTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	if s.CountByStatusFn != nil {
		return s.CountByStatusFn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// WithTx implements store.TaskStore.WithTx. The mock has no transactions;
// it returns itself.
func (s *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return s
}

// transition applies mutate when the task exists and is in the expected
// status, mirroring the real store's conditional updates.
func (s *MockTaskStore) transition(id uuid.UUID, expected domain.TaskStatus, mutate func(*domain.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: id %s", store.ErrTaskNotFound, id)
	}
	if t.Status != expected {
		return fmt.Errorf("%w: task %s is %s", store.ErrUpdateConflict, id, t.Status)
	}

	mutate(t)
	return nil
}

func containsType(types []string, taskType string) bool {
	for _, t := range types {
		if t == taskType {
			return true
		}
	}
	return false
}
