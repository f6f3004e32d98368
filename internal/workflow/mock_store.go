package workflow

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

// MockWorkflowStore is an in-memory store.WorkflowStore for tests. Its
// default behaviors enforce the same conditional-update semantics as the
// Postgres implementation, so advancer tests exercise real transition
// conflicts. Individual methods can be overridden through the Fn fields.
type MockWorkflowStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*domain.Workflow

	CreateFn           func(ctx context.Context, workflow *domain.Workflow) error
	GetByIDFn          func(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	ListDueScheduledFn func(ctx context.Context, now time.Time, limit int) ([]*domain.Workflow, error)
	ListActiveFn       func(ctx context.Context, limit int) ([]*domain.Workflow, error)
	ActivateFn         func(ctx context.Context, workflow *domain.Workflow, now time.Time) error
	AdvanceStepFn      func(ctx context.Context, workflow *domain.Workflow, fromIndex int, now time.Time) error
	UpdateStatusFn     func(ctx context.Context, id uuid.UUID, from, to domain.WorkflowStatus, now time.Time) error
	MarkStalledFn      func(ctx context.Context, staleBefore time.Time, now time.Time) ([]uuid.UUID, error)
}

// Ensure MockWorkflowStore implements store.WorkflowStore
var _ store.WorkflowStore = (*MockWorkflowStore)(nil)

// NewMockWorkflowStore creates an empty in-memory workflow store.
func NewMockWorkflowStore() *MockWorkflowStore {
	return &MockWorkflowStore{
		workflows: make(map[uuid.UUID]*domain.Workflow),
	}
}

// Snapshot returns a copy of the stored workflow, or nil if absent.
func (m *MockWorkflowStore) Snapshot(id uuid.UUID) *domain.Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil
	}
	return copyWorkflow(wf)
}

func (m *MockWorkflowStore) Create(ctx context.Context, workflow *domain.Workflow) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, workflow)
	}

	if err := workflow.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workflows[workflow.ID]; exists {
		return store.ErrWorkflowExists
	}
	m.workflows[workflow.ID] = copyWorkflow(workflow)
	return nil
}

func (m *MockWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, store.ErrWorkflowNotFound
	}
	return copyWorkflow(wf), nil
}

func (m *MockWorkflowStore) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Workflow, error) {
	if m.ListDueScheduledFn != nil {
		return m.ListDueScheduledFn(ctx, now, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Workflow
	for _, wf := range m.workflows {
		if wf.Status == domain.WorkflowStatusScheduled && !wf.ActivateAt.After(now) {
			due = append(due, copyWorkflow(wf))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ActivateAt.Before(due[j].ActivateAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockWorkflowStore) ListActive(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	if m.ListActiveFn != nil {
		return m.ListActiveFn(ctx, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*domain.Workflow
	for _, wf := range m.workflows {
		if wf.Status == domain.WorkflowStatusActive {
			active = append(active, copyWorkflow(wf))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastProgressAt.Before(active[j].LastProgressAt)
	})
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (m *MockWorkflowStore) Activate(ctx context.Context, workflow *domain.Workflow, now time.Time) error {
	if m.ActivateFn != nil {
		return m.ActivateFn(ctx, workflow, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[workflow.ID]
	if !ok {
		return store.ErrWorkflowNotFound
	}
	if stored.Status != domain.WorkflowStatusScheduled {
		return fmt.Errorf("%w: workflow %s is %s", store.ErrUpdateConflict, workflow.ID, stored.Status)
	}

	stored.Status = domain.WorkflowStatusActive
	stored.Steps = copySteps(workflow.Steps)
	stored.LastProgressAt = now
	stored.UpdatedAt = now
	return nil
}

func (m *MockWorkflowStore) AdvanceStep(ctx context.Context, workflow *domain.Workflow, fromIndex int, now time.Time) error {
	if m.AdvanceStepFn != nil {
		return m.AdvanceStepFn(ctx, workflow, fromIndex, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[workflow.ID]
	if !ok {
		return store.ErrWorkflowNotFound
	}
	if stored.Status != domain.WorkflowStatusActive || stored.CurrentStepIndex != fromIndex {
		return fmt.Errorf("%w: workflow %s is %s at step %d",
			store.ErrUpdateConflict, workflow.ID, stored.Status, stored.CurrentStepIndex)
	}

	stored.CurrentStepIndex = workflow.CurrentStepIndex
	stored.Steps = copySteps(workflow.Steps)
	stored.LastProgressAt = now
	stored.UpdatedAt = now
	return nil
}

func (m *MockWorkflowStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.WorkflowStatus, now time.Time) error {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, id, from, to, now)
	}

	if !domain.ValidWorkflowTransition(from, to) {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrInvalidWorkflowTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.workflows[id]
	if !ok {
		return store.ErrWorkflowNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: workflow %s is %s", store.ErrUpdateConflict, id, stored.Status)
	}

	stored.Status = to
	if to == domain.WorkflowStatusActive {
		stored.LastProgressAt = now
	}
	stored.UpdatedAt = now
	return nil
}

func (m *MockWorkflowStore) MarkStalled(ctx context.Context, staleBefore time.Time, now time.Time) ([]uuid.UUID, error) {
	if m.MarkStalledFn != nil {
		return m.MarkStalledFn(ctx, staleBefore, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var flagged []uuid.UUID
	for _, wf := range m.workflows {
		if wf.Status == domain.WorkflowStatusActive && wf.LastProgressAt.Before(staleBefore) {
			wf.Status = domain.WorkflowStatusStalled
			wf.UpdatedAt = now
			flagged = append(flagged, wf.ID)
		}
	}
	return flagged, nil
}

func (m *MockWorkflowStore) WithTx(tx *sql.Tx) store.WorkflowStore {
	return m
}

func copyWorkflow(wf *domain.Workflow) *domain.Workflow {
	dup := *wf
	dup.Steps = copySteps(wf.Steps)
	return &dup
}

func copySteps(steps []domain.WorkflowStep) []domain.WorkflowStep {
	dup := make([]domain.WorkflowStep, len(steps))
	for i, step := range steps {
		dup[i] = step
		dup[i].Tasks = append([]domain.TaskSpec(nil), step.Tasks...)
		dup[i].TaskIDs = append([]uuid.UUID(nil), step.TaskIDs...)
	}
	return dup
}
