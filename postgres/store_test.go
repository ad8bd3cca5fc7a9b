package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opsboard/workflow"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("workflow-test"),
		pgcontainer.WithUsername("user"),
		pgcontainer.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newExecution(workItemID string) (*workflow.Execution, []*workflow.ExecutionStep) {
	execution := &workflow.Execution{
		ID:             workflow.NewExecutionID(),
		WorkItemID:     workItemID,
		OrganizationID: "org-1",
		TemplateID:     "tmpl-inspection",
		Status:         workflow.ExecutionStatusInProgress,
		Data: map[string]*workflow.LegacyStepData{
			"signoff": {Data: map[string]any{"amount": 5}},
		},
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	steps := []*workflow.ExecutionStep{
		{
			ID:             workflow.NewStepID(),
			ExecutionID:    execution.ID,
			WorkItemID:     workItemID,
			OrganizationID: "org-1",
			StepIndex:      0,
			Title:          "Safety checklist",
			Status:         workflow.StepStatusNotStarted,
			Evidence: &workflow.Evidence{
				StepID:   "safety-check",
				StepType: workflow.StepTypeChecklist,
				Required: true,
			},
		},
		{
			ID:             workflow.NewStepID(),
			ExecutionID:    execution.ID,
			WorkItemID:     workItemID,
			OrganizationID: "org-1",
			StepIndex:      1,
			Title:          "Supervisor signoff",
			Status:         workflow.StepStatusNotStarted,
			Evidence: &workflow.Evidence{
				StepID:   "signoff",
				StepType: workflow.StepTypeForm,
				Required: true,
			},
		},
	}
	return execution, steps
}

func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	pool := newTestPool(t)

	store := NewStore(pool)
	require.NoError(t, store.Migrate(ctx))

	t.Run("create and read back", func(t *testing.T) {
		execution, steps := newExecution("wi-read")
		require.NoError(t, store.CreateExecution(ctx, execution, steps))

		got, err := store.GetExecution(ctx, execution.ID, "org-1")
		require.NoError(t, err)
		require.Equal(t, execution.WorkItemID, got.WorkItemID)
		require.Equal(t, workflow.ExecutionStatusInProgress, got.Status)
		require.True(t, execution.StartedAt.Equal(got.StartedAt))
		require.NotNil(t, got.Data["signoff"])

		listed, err := store.ListSteps(ctx, execution.ID, "org-1")
		require.NoError(t, err)
		require.Len(t, listed, 2)
		require.Equal(t, "safety-check", listed[0].Evidence.StepID)
		require.Equal(t, 1, listed[1].StepIndex)

		_, err = store.GetExecution(ctx, execution.ID, "org-other")
		require.True(t, workflow.IsNotFound(err))
	})

	t.Run("unique in-progress guard", func(t *testing.T) {
		execution, steps := newExecution("wi-unique")
		require.NoError(t, store.CreateExecution(ctx, execution, steps))

		dup, dupSteps := newExecution("wi-unique")
		err := store.CreateExecution(ctx, dup, dupSteps)
		require.True(t, workflow.IsInvalidState(err))

		// Completion releases the slot
		won, err := store.CompleteExecution(ctx, execution.ID, "org-1", time.Now())
		require.NoError(t, err)
		require.True(t, won)
		fresh, freshSteps := newExecution("wi-unique")
		require.NoError(t, store.CreateExecution(ctx, fresh, freshSteps))
	})

	t.Run("mutate step read-modify-write", func(t *testing.T) {
		execution, steps := newExecution("wi-mutate")
		require.NoError(t, store.CreateExecution(ctx, execution, steps))

		updated, err := store.MutateStep(ctx, steps[0].ID, "org-1", func(step *workflow.ExecutionStep) error {
			step.Status = workflow.StepStatusCompleted
			step.CompletedBy = "user-7"
			step.Evidence = step.Evidence.Merge(&workflow.Evidence{
				Checked: func() *bool { b := true; return &b }(),
			})
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, workflow.StepStatusCompleted, updated.Status)

		got, err := store.GetStep(ctx, steps[0].ID, "org-1")
		require.NoError(t, err)
		require.Equal(t, workflow.StepStatusCompleted, got.Status)
		require.NotNil(t, got.Evidence.Checked)
		require.True(t, *got.Evidence.Checked)
		require.Equal(t, "safety-check", got.Evidence.StepID)

		_, err = store.MutateStep(ctx, "step_missing", "org-1", func(step *workflow.ExecutionStep) error {
			return nil
		})
		require.True(t, workflow.IsNotFound(err))
	})

	t.Run("concurrent mutations serialize", func(t *testing.T) {
		execution, steps := newExecution("wi-race")
		require.NoError(t, store.CreateExecution(ctx, execution, steps))

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.MutateStep(ctx, steps[0].ID, "org-1", func(step *workflow.ExecutionStep) error {
					step.Evidence = step.Evidence.Merge(&workflow.Evidence{
						Extra: map[string]any{fmt.Sprintf("field-%d", i): i},
					})
					return nil
				})
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.GetStep(ctx, steps[0].ID, "org-1")
		require.NoError(t, err)
		require.Len(t, got.Evidence.Extra, 10)
	})

	t.Run("complete is first-winner-only", func(t *testing.T) {
		execution, steps := newExecution("wi-complete")
		require.NoError(t, store.CreateExecution(ctx, execution, steps))

		won, err := store.CompleteExecution(ctx, execution.ID, "org-1", time.Now())
		require.NoError(t, err)
		require.True(t, won)
		won, err = store.CompleteExecution(ctx, execution.ID, "org-1", time.Now())
		require.NoError(t, err)
		require.False(t, won)

		_, err = store.CompleteExecution(ctx, "exec_missing", "org-1", time.Now())
		require.True(t, workflow.IsNotFound(err))
	})

	t.Run("delete cascades to steps", func(t *testing.T) {
		execution, steps := newExecution("wi-delete")
		require.NoError(t, store.CreateExecution(ctx, execution, steps))

		require.NoError(t, store.DeleteExecution(ctx, execution.ID, "org-1"))
		_, err := store.GetExecution(ctx, execution.ID, "org-1")
		require.True(t, workflow.IsNotFound(err))
		listed, err := store.ListSteps(ctx, execution.ID, "org-1")
		require.NoError(t, err)
		require.Empty(t, listed)
	})
}

func TestSessionStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	pool := newTestPool(t)

	store := NewStore(pool)
	require.NoError(t, store.Migrate(ctx))
	sessions := NewSessionStore(pool, time.Hour)

	t.Run("fill chunks across calls", func(t *testing.T) {
		fill := func(index int, data []byte) *workflow.UploadSession {
			session, err := sessions.MutateSession(ctx, "org-1", "u-1", func(session *workflow.UploadSession) (*workflow.UploadSession, error) {
				if session == nil {
					session = &workflow.UploadSession{
						UploadID:       "u-1",
						StepID:         "step_1",
						WorkItemID:     "wi-1",
						OrganizationID: "org-1",
						FileName:       "report.pdf",
						TotalChunks:    3,
						Chunks:         make([][]byte, 3),
						CreatedAt:      time.Now(),
					}
				}
				if session.Chunks[index] == nil {
					session.Chunks[index] = data
					session.ReceivedChunks++
				}
				session.UpdatedAt = time.Now()
				return session, nil
			})
			require.NoError(t, err)
			return session
		}

		require.Equal(t, 1, fill(2, []byte("CCC")).ReceivedChunks)
		require.Equal(t, 2, fill(0, []byte("AAA")).ReceivedChunks)
		// Duplicate send of a filled slot does not advance
		require.Equal(t, 2, fill(0, []byte("ZZZ")).ReceivedChunks)

		final := fill(1, []byte("BBB"))
		require.Equal(t, 3, final.ReceivedChunks)
		require.Equal(t, [][]byte{[]byte("AAA"), []byte("BBB"), []byte("CCC")}, final.Chunks)
	})

	t.Run("finalizing claim survives a round trip", func(t *testing.T) {
		_, err := sessions.MutateSession(ctx, "org-1", "u-1", func(session *workflow.UploadSession) (*workflow.UploadSession, error) {
			require.False(t, session.Finalizing)
			session.Finalizing = true
			return session, nil
		})
		require.NoError(t, err)

		_, err = sessions.MutateSession(ctx, "org-1", "u-1", func(session *workflow.UploadSession) (*workflow.UploadSession, error) {
			require.True(t, session.Finalizing)
			session.Finalizing = false
			return session, nil
		})
		require.NoError(t, err)
	})

	t.Run("delete removes the session", func(t *testing.T) {
		require.NoError(t, sessions.DeleteSession(ctx, "org-1", "u-1"))
		_, err := sessions.MutateSession(ctx, "org-1", "u-1", func(session *workflow.UploadSession) (*workflow.UploadSession, error) {
			require.Nil(t, session)
			return nil, nil
		})
		require.NoError(t, err)
	})

	t.Run("expired sessions are swept", func(t *testing.T) {
		_, err := sessions.MutateSession(ctx, "org-1", "u-stale", func(session *workflow.UploadSession) (*workflow.UploadSession, error) {
			return &workflow.UploadSession{
				UploadID:       "u-stale",
				StepID:         "step_1",
				OrganizationID: "org-1",
				TotalChunks:    2,
				Chunks:         make([][]byte, 2),
				CreatedAt:      time.Now().Add(-3 * time.Hour),
				UpdatedAt:      time.Now().Add(-2 * time.Hour),
			}, nil
		})
		require.NoError(t, err)

		swept, err := sessions.DeleteExpiredSessions(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), swept)
	})
}
