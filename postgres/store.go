// Package postgres provides durable pgx-backed implementations of the
// workflow engine's store interfaces.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsboard/workflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	work_item_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	template_id TEXT NOT NULL,
	status TEXT NOT NULL,
	execution_data JSONB NOT NULL DEFAULT '{}',
	current_step_id TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS workflow_executions_one_in_progress
	ON workflow_executions (organization_id, work_item_id)
	WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS workflow_executions_work_item
	ON workflow_executions (organization_id, work_item_id);

CREATE TABLE IF NOT EXISTS workflow_execution_steps (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES workflow_executions (id) ON DELETE CASCADE,
	work_item_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	step_index INT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	evidence JSONB NOT NULL DEFAULT '{}',
	completed_at TIMESTAMPTZ,
	completed_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS workflow_execution_steps_execution
	ON workflow_execution_steps (execution_id, step_index);

CREATE TABLE IF NOT EXISTS upload_sessions (
	organization_id TEXT NOT NULL,
	upload_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	work_item_id TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	total_chunks INT NOT NULL,
	finalizing BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (organization_id, upload_id)
);

CREATE TABLE IF NOT EXISTS upload_session_chunks (
	organization_id TEXT NOT NULL,
	upload_id TEXT NOT NULL,
	chunk_index INT NOT NULL,
	data BYTEA NOT NULL,
	PRIMARY KEY (organization_id, upload_id, chunk_index),
	FOREIGN KEY (organization_id, upload_id)
		REFERENCES upload_sessions (organization_id, upload_id) ON DELETE CASCADE
);
`

// Store is a PostgreSQL implementation of workflow.ExecutionStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store over the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the engine's tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (s *Store) CreateExecution(ctx context.Context, execution *workflow.Execution, steps []*workflow.ExecutionStep) error {
	legacyData, err := json.Marshal(execution.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal execution data: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_executions
			(id, work_item_id, organization_id, template_id, status, execution_data, current_step_id, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		execution.ID, execution.WorkItemID, execution.OrganizationID,
		execution.TemplateID, execution.Status, legacyData,
		execution.CurrentStepID, execution.StartedAt, nullTime(execution.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return workflow.NewInvalidStateError("work item %q already has an in-progress execution", execution.WorkItemID)
		}
		return err
	}

	for _, step := range steps {
		evidence, err := json.Marshal(step.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal step evidence: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_execution_steps
				(id, execution_id, work_item_id, organization_id, step_index, title, description, status, notes, evidence, completed_at, completed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			step.ID, step.ExecutionID, step.WorkItemID, step.OrganizationID,
			step.StepIndex, step.Title, step.Description, step.Status,
			step.Notes, evidence, nullTime(step.CompletedAt), step.CompletedBy)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const executionColumns = `id, work_item_id, organization_id, template_id, status, execution_data, current_step_id, started_at, completed_at`

func scanExecution(row pgx.Row) (*workflow.Execution, error) {
	var execution workflow.Execution
	var legacyData []byte
	var completedAt *time.Time
	err := row.Scan(&execution.ID, &execution.WorkItemID, &execution.OrganizationID,
		&execution.TemplateID, &execution.Status, &legacyData,
		&execution.CurrentStepID, &execution.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	execution.CompletedAt = fromNullTime(completedAt)
	if len(legacyData) > 0 {
		if err := json.Unmarshal(legacyData, &execution.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
		}
	}
	return &execution, nil
}

func (s *Store) GetExecution(ctx context.Context, executionID, organizationID string) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1 AND organization_id = $2`,
		executionID, organizationID)
	execution, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("execution %q not found", executionID)
	}
	return execution, err
}

func (s *Store) GetInProgressExecution(ctx context.Context, workItemID, organizationID string) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
		 WHERE work_item_id = $1 AND organization_id = $2 AND status = 'in_progress'`,
		workItemID, organizationID)
	execution, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("no in-progress execution for work item %q", workItemID)
	}
	return execution, err
}

func (s *Store) ListExecutions(ctx context.Context, workItemID, organizationID string) ([]*workflow.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
		 WHERE work_item_id = $1 AND organization_id = $2
		 ORDER BY started_at DESC`,
		workItemID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*workflow.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

const stepColumns = `id, execution_id, work_item_id, organization_id, step_index, title, description, status, notes, evidence, completed_at, completed_by`

func scanStep(row pgx.Row) (*workflow.ExecutionStep, error) {
	var step workflow.ExecutionStep
	var evidence []byte
	var completedAt *time.Time
	err := row.Scan(&step.ID, &step.ExecutionID, &step.WorkItemID, &step.OrganizationID,
		&step.StepIndex, &step.Title, &step.Description, &step.Status,
		&step.Notes, &evidence, &completedAt, &step.CompletedBy)
	if err != nil {
		return nil, err
	}
	step.CompletedAt = fromNullTime(completedAt)
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &step.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step evidence: %w", err)
		}
	}
	return &step, nil
}

func (s *Store) GetStep(ctx context.Context, stepID, organizationID string) (*workflow.ExecutionStep, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM workflow_execution_steps WHERE id = $1 AND organization_id = $2`,
		stepID, organizationID)
	step, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("step %q not found", stepID)
	}
	return step, err
}

func (s *Store) ListSteps(ctx context.Context, executionID, organizationID string) ([]*workflow.ExecutionStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM workflow_execution_steps
		 WHERE execution_id = $1 AND organization_id = $2
		 ORDER BY step_index`,
		executionID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*workflow.ExecutionStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// MutateStep holds a row lock on the step for the duration of fn so
// concurrent evidence merges serialize instead of losing updates.
func (s *Store) MutateStep(ctx context.Context, stepID, organizationID string, fn func(step *workflow.ExecutionStep) error) (*workflow.ExecutionStep, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM workflow_execution_steps
		 WHERE id = $1 AND organization_id = $2 FOR UPDATE`,
		stepID, organizationID)
	step, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("step %q not found", stepID)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(step); err != nil {
		return nil, err
	}

	evidence, err := json.Marshal(step.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step evidence: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE workflow_execution_steps
		SET status = $1, notes = $2, evidence = $3, completed_at = $4, completed_by = $5
		WHERE id = $6 AND organization_id = $7`,
		step.Status, step.Notes, evidence, nullTime(step.CompletedAt), step.CompletedBy,
		stepID, organizationID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return step, nil
}

// CompleteExecution is the engine's exactly-once gate: the conditional
// UPDATE succeeds for exactly one of any set of concurrent callers.
func (s *Store) CompleteExecution(ctx context.Context, executionID, organizationID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'completed', completed_at = $1
		WHERE id = $2 AND organization_id = $3 AND status = 'in_progress'`,
		at, executionID, organizationID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Distinguish "already completed" from "absent".
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1 AND organization_id = $2)`,
		executionID, organizationID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, workflow.NewNotFoundError("execution %q not found", executionID)
	}
	return false, nil
}

func (s *Store) DeleteExecution(ctx context.Context, executionID, organizationID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_executions WHERE id = $1 AND organization_id = $2`,
		executionID, organizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.NewNotFoundError("execution %q not found", executionID)
	}
	return nil
}
