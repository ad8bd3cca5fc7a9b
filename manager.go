package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ExecutionManagerOptions configures a new ExecutionManager
type ExecutionManagerOptions struct {
	Store     ExecutionStore
	Templates TemplateProvider
	WorkItems WorkItemStore
	Logger    *slog.Logger
}

// ExecutionManager creates and resets the singleton in-progress execution for
// a work item.
type ExecutionManager struct {
	store     ExecutionStore
	templates TemplateProvider
	workItems WorkItemStore
	logger    *slog.Logger
	clock     func() time.Time
}

// NewExecutionManager creates a new ExecutionManager
func NewExecutionManager(opts ExecutionManagerOptions) (*ExecutionManager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("template provider is required")
	}
	if opts.WorkItems == nil {
		return nil, fmt.Errorf("work item store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExecutionManager{
		store:     opts.Store,
		templates: opts.Templates,
		workItems: opts.WorkItems,
		logger:    opts.Logger,
		clock:     time.Now,
	}, nil
}

// Start returns the in-progress execution for the work item, creating one
// from the work item's linked template if none exists. Start is idempotent:
// concurrent or repeated calls within the same in-progress window yield the
// same execution.
func (m *ExecutionManager) Start(ctx context.Context, workItemID, organizationID string) (*Execution, error) {
	workItem, err := m.workItems.GetWorkItem(ctx, workItemID, organizationID)
	if err != nil {
		return nil, err
	}
	if workItem.TemplateID == "" {
		return nil, NewNotFoundError("work item %q has no linked workflow template", workItemID)
	}

	existing, err := m.store.GetInProgressExecution(ctx, workItemID, organizationID)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	template, err := m.templates.GetTemplate(ctx, workItem.TemplateID, organizationID)
	if err != nil {
		return nil, err
	}

	execution := &Execution{
		ID:             NewExecutionID(),
		WorkItemID:     workItemID,
		OrganizationID: organizationID,
		TemplateID:     template.ID,
		Status:         ExecutionStatusInProgress,
		Data:           map[string]*LegacyStepData{},
		StartedAt:      m.clock(),
	}
	steps := MaterializeSteps(template, execution.ID, workItemID, organizationID)

	if err := m.store.CreateExecution(ctx, execution, steps); err != nil {
		// A concurrent Start may have created the execution between the
		// lookup and the insert; the store's uniqueness guard surfaces that
		// as invalid_state and the winner's execution is returned instead.
		if IsInvalidState(err) {
			return m.store.GetInProgressExecution(ctx, workItemID, organizationID)
		}
		return nil, err
	}

	m.logger.Info("workflow execution started",
		"execution_id", execution.ID,
		"work_item_id", workItemID,
		"template_id", template.ID,
		"steps", len(steps))
	return execution, nil
}

// Reinitialize deletes any prior executions for the work item (any status,
// steps cascade) and starts a fresh one. This is an explicit caller-triggered
// reset producing a new execution identity.
func (m *ExecutionManager) Reinitialize(ctx context.Context, workItemID, organizationID string) (*Execution, error) {
	workItem, err := m.workItems.GetWorkItem(ctx, workItemID, organizationID)
	if err != nil {
		return nil, err
	}
	if workItem.TemplateID == "" {
		return nil, NewInvalidStateError("work item %q has no linked workflow template", workItemID)
	}

	executions, err := m.store.ListExecutions(ctx, workItemID, organizationID)
	if err != nil {
		return nil, err
	}
	for _, execution := range executions {
		if err := m.store.DeleteExecution(ctx, execution.ID, organizationID); err != nil {
			return nil, err
		}
		m.logger.Info("deleted prior workflow execution",
			"execution_id", execution.ID,
			"work_item_id", workItemID)
	}
	return m.Start(ctx, workItemID, organizationID)
}
