package workflow

import (
	"context"
	"time"
)

// ExecutionStore persists executions and their steps. Implementations must
// provide the atomicity this interface documents: the engine's concurrency
// guarantees (one in_progress execution per work item, lost-update-free
// evidence merges, exactly-once completion) are built on it.
type ExecutionStore interface {
	// CreateExecution persists an execution and its steps atomically
	// (both-or-neither). It fails with an invalid_state error if an
	// in_progress execution already exists for the same work item.
	CreateExecution(ctx context.Context, execution *Execution, steps []*ExecutionStep) error

	// GetExecution returns an execution by id, or a not_found error.
	GetExecution(ctx context.Context, executionID, organizationID string) (*Execution, error)

	// GetInProgressExecution returns the in_progress execution for a work
	// item, or a not_found error when there is none.
	GetInProgressExecution(ctx context.Context, workItemID, organizationID string) (*Execution, error)

	// ListExecutions returns all executions for a work item, newest first.
	ListExecutions(ctx context.Context, workItemID, organizationID string) ([]*Execution, error)

	// GetStep returns a step by id, or a not_found error.
	GetStep(ctx context.Context, stepID, organizationID string) (*ExecutionStep, error)

	// ListSteps returns an execution's steps ordered by step index.
	ListSteps(ctx context.Context, executionID, organizationID string) ([]*ExecutionStep, error)

	// MutateStep applies fn to a step as a single atomic read-modify-write
	// and returns the persisted result. An error from fn aborts the write.
	MutateStep(ctx context.Context, stepID, organizationID string, fn func(step *ExecutionStep) error) (*ExecutionStep, error)

	// CompleteExecution conditionally transitions an execution from
	// in_progress to completed. It returns false when the execution was not
	// in_progress, which callers treat as "completed by a concurrent caller".
	CompleteExecution(ctx context.Context, executionID, organizationID string, at time.Time) (bool, error)

	// DeleteExecution removes an execution and cascades to its steps.
	DeleteExecution(ctx context.Context, executionID, organizationID string) error
}

// SessionStore persists chunked upload sessions keyed by
// (organizationID, uploadID).
type SessionStore interface {
	// MutateSession applies fn to the session under the key, holding it
	// exclusively for the duration of fn. fn receives nil when no session
	// exists (or the existing one has expired) and returns the session to
	// persist. An error from fn aborts the write.
	MutateSession(ctx context.Context, organizationID, uploadID string, fn func(session *UploadSession) (*UploadSession, error)) (*UploadSession, error)

	// DeleteSession removes a session. Deleting an absent session is not an
	// error.
	DeleteSession(ctx context.Context, organizationID, uploadID string) error
}
