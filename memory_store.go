package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of ExecutionStore. It is
// intended for tests and single-process deployments; durable deployments use
// the postgres package.
type MemoryStore struct {
	mutex      sync.Mutex
	executions map[string]*Execution
	steps      map[string]*ExecutionStep
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: map[string]*Execution{},
		steps:      map[string]*ExecutionStep{},
	}
}

func (s *MemoryStore) CreateExecution(ctx context.Context, execution *Execution, steps []*ExecutionStep) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.executions {
		if existing.WorkItemID == execution.WorkItemID &&
			existing.OrganizationID == execution.OrganizationID &&
			existing.Status == ExecutionStatusInProgress {
			return NewInvalidStateError("work item %q already has an in-progress execution", execution.WorkItemID)
		}
	}
	s.executions[execution.ID] = execution.Copy()
	for _, step := range steps {
		s.steps[step.ID] = step.Copy()
	}
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID, organizationID string) (*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[executionID]
	if !ok || execution.OrganizationID != organizationID {
		return nil, NewNotFoundError("execution %q not found", executionID)
	}
	return execution.Copy(), nil
}

func (s *MemoryStore) GetInProgressExecution(ctx context.Context, workItemID, organizationID string) (*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, execution := range s.executions {
		if execution.WorkItemID == workItemID &&
			execution.OrganizationID == organizationID &&
			execution.Status == ExecutionStatusInProgress {
			return execution.Copy(), nil
		}
	}
	return nil, NewNotFoundError("no in-progress execution for work item %q", workItemID)
}

func (s *MemoryStore) ListExecutions(ctx context.Context, workItemID, organizationID string) ([]*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var executions []*Execution
	for _, execution := range s.executions {
		if execution.WorkItemID == workItemID && execution.OrganizationID == organizationID {
			executions = append(executions, execution.Copy())
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})
	return executions, nil
}

func (s *MemoryStore) GetStep(ctx context.Context, stepID, organizationID string) (*ExecutionStep, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	step, ok := s.steps[stepID]
	if !ok || step.OrganizationID != organizationID {
		return nil, NewNotFoundError("step %q not found", stepID)
	}
	return step.Copy(), nil
}

func (s *MemoryStore) ListSteps(ctx context.Context, executionID, organizationID string) ([]*ExecutionStep, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var steps []*ExecutionStep
	for _, step := range s.steps {
		if step.ExecutionID == executionID && step.OrganizationID == organizationID {
			steps = append(steps, step.Copy())
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepIndex < steps[j].StepIndex
	})
	return steps, nil
}

func (s *MemoryStore) MutateStep(ctx context.Context, stepID, organizationID string, fn func(step *ExecutionStep) error) (*ExecutionStep, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	step, ok := s.steps[stepID]
	if !ok || step.OrganizationID != organizationID {
		return nil, NewNotFoundError("step %q not found", stepID)
	}
	updated := step.Copy()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.steps[stepID] = updated
	return updated.Copy(), nil
}

func (s *MemoryStore) CompleteExecution(ctx context.Context, executionID, organizationID string, at time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[executionID]
	if !ok || execution.OrganizationID != organizationID {
		return false, NewNotFoundError("execution %q not found", executionID)
	}
	if execution.Status != ExecutionStatusInProgress {
		return false, nil
	}
	execution.Status = ExecutionStatusCompleted
	execution.CompletedAt = at
	return true, nil
}

func (s *MemoryStore) DeleteExecution(ctx context.Context, executionID, organizationID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[executionID]
	if !ok || execution.OrganizationID != organizationID {
		return NewNotFoundError("execution %q not found", executionID)
	}
	delete(s.executions, execution.ID)
	for id, step := range s.steps {
		if step.ExecutionID == executionID {
			delete(s.steps, id)
		}
	}
	return nil
}

// MemorySessionStore is an in-memory implementation of SessionStore. Expired
// sessions are evicted lazily when their key is next accessed; a TTL of zero
// keeps sessions until reassembly or explicit deletion.
type MemorySessionStore struct {
	mutex    sync.Mutex
	sessions map[string]*UploadSession
	ttl      time.Duration
	now      func() time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: map[string]*UploadSession{},
		ttl:      ttl,
		now:      time.Now,
	}
}

func sessionKey(organizationID, uploadID string) string {
	return organizationID + "/" + uploadID
}

func (s *MemorySessionStore) MutateSession(ctx context.Context, organizationID, uploadID string, fn func(session *UploadSession) (*UploadSession, error)) (*UploadSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := sessionKey(organizationID, uploadID)
	session := s.sessions[key]
	if session != nil && s.ttl > 0 && s.now().Sub(session.UpdatedAt) > s.ttl {
		delete(s.sessions, key)
		session = nil
	}
	updated, err := fn(session)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		s.sessions[key] = updated
	}
	return updated, nil
}

func (s *MemorySessionStore) DeleteSession(ctx context.Context, organizationID, uploadID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.sessions, sessionKey(organizationID, uploadID))
	return nil
}
