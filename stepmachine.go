package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// StepMachineOptions configures a new StepMachine
type StepMachineOptions struct {
	Store         ExecutionStore
	Completion    *CompletionResolver
	PhotoAnalysis *PhotoAnalysisTrigger
	Logger        *slog.Logger
}

// StepMachine validates and applies step status transitions and merges
// partial evidence updates. Merges are applied as a single atomic
// read-modify-write per step through the store.
type StepMachine struct {
	store         ExecutionStore
	completion    *CompletionResolver
	photoAnalysis *PhotoAnalysisTrigger
	logger        *slog.Logger
	clock         func() time.Time
}

// NewStepMachine creates a new StepMachine. Completion and PhotoAnalysis are
// optional; without them step transitions still commit but completion
// detection and photo analysis do not run.
func NewStepMachine(opts StepMachineOptions) (*StepMachine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StepMachine{
		store:         opts.Store,
		completion:    opts.Completion,
		photoAnalysis: opts.PhotoAnalysis,
		logger:        opts.Logger,
		clock:         time.Now,
	}, nil
}

// UpdateStatusRequest carries a step status transition with optional notes
// and evidence patch.
type UpdateStatusRequest struct {
	StepID         string
	OrganizationID string
	Status         StepStatus
	ActorID        string
	Notes          *string
	Evidence       *Evidence
}

// UpdateStatus sets the step status, replacing notes when provided
// (last-write-wins) and merging the evidence patch under the template-carried
// key preservation rules. Completing a step stamps CompletedAt/CompletedBy
// and triggers completion detection for the execution.
func (m *StepMachine) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*ExecutionStep, error) {
	if !validStepStatus(req.Status) {
		return nil, NewInvalidArgumentError("unknown step status %q", req.Status)
	}
	step, err := m.mutate(ctx, req.StepID, req.OrganizationID, req.Evidence, func(step *ExecutionStep) {
		step.Status = req.Status
		if req.Status == StepStatusCompleted {
			step.CompletedAt = m.clock()
			step.CompletedBy = req.ActorID
		}
		if req.Notes != nil {
			step.Notes = *req.Notes
		}
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("step status updated",
		"step_id", step.ID,
		"execution_id", step.ExecutionID,
		"status", step.Status)

	if req.Status == StepStatusCompleted && m.completion != nil {
		if _, err := m.completion.CheckAndComplete(ctx, step.ExecutionID, req.OrganizationID); err != nil {
			return nil, err
		}
	}
	return step, nil
}

// AddEvidence merges an evidence patch into the step without altering its
// status.
func (m *StepMachine) AddEvidence(ctx context.Context, stepID, organizationID string, patch *Evidence) (*ExecutionStep, error) {
	return m.mutate(ctx, stepID, organizationID, patch, nil)
}

// mutate applies the evidence merge and optional extra mutation atomically,
// then fires the photo analysis trigger when the patch introduced photos on
// a step with analysis enabled.
func (m *StepMachine) mutate(ctx context.Context, stepID, organizationID string, patch *Evidence, extra func(step *ExecutionStep)) (*ExecutionStep, error) {
	step, err := m.store.MutateStep(ctx, stepID, organizationID, func(step *ExecutionStep) error {
		if patch != nil {
			step.Evidence = step.Evidence.Merge(patch)
		}
		if extra != nil {
			extra(step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if patch != nil && len(patch.Photos) > 0 && m.photoAnalysis != nil {
		if config := step.Evidence.PhotoAnalysisConfig; config != nil && config.Enabled {
			// Best-effort and detached from the request: analysis failures
			// never affect the step transition that already committed.
			go m.photoAnalysis.OnPhotosAdded(context.WithoutCancel(ctx), step, patch.Photos, config, organizationID, step.CompletedBy)
		}
	}
	return step, nil
}
