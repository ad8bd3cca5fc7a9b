package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// CompletionResolverOptions configures a new CompletionResolver
type CompletionResolverOptions struct {
	Store        ExecutionStore
	Templates    TemplateProvider
	WorkItems    WorkItemStore
	SourceLookup WorkItemSourceLookup
	FieldUpdater DatabaseFieldUpdater
	Tickets      TicketSystemClient
	Webhooks     *WebhookClient
	ActivityLog  ActivityLogger
	Logger       *slog.Logger
}

// CompletionResolver detects when every required step of an execution is
// complete, transitions the execution and its work item to completed exactly
// once, and runs the template's completion callbacks with per-callback fault
// isolation.
type CompletionResolver struct {
	store        ExecutionStore
	templates    TemplateProvider
	workItems    WorkItemStore
	sourceLookup WorkItemSourceLookup
	fieldUpdater DatabaseFieldUpdater
	tickets      TicketSystemClient
	webhooks     *WebhookClient
	activityLog  ActivityLogger
	logger       *slog.Logger
	clock        func() time.Time
}

// NewCompletionResolver creates a new CompletionResolver. Collaborators other
// than the store, template provider, and work item store default to no-op
// implementations.
func NewCompletionResolver(opts CompletionResolverOptions) (*CompletionResolver, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("template provider is required")
	}
	if opts.WorkItems == nil {
		return nil, fmt.Errorf("work item store is required")
	}
	if opts.SourceLookup == nil {
		opts.SourceLookup = NewNullWorkItemSourceLookup()
	}
	if opts.FieldUpdater == nil {
		opts.FieldUpdater = NewNullDatabaseFieldUpdater()
	}
	if opts.Tickets == nil {
		opts.Tickets = NewNullTicketSystemClient()
	}
	if opts.Webhooks == nil {
		opts.Webhooks = NewWebhookClient(DefaultWebhookTimeout)
	}
	if opts.ActivityLog == nil {
		opts.ActivityLog = NewNullActivityLogger()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CompletionResolver{
		store:        opts.Store,
		templates:    opts.Templates,
		workItems:    opts.WorkItems,
		sourceLookup: opts.SourceLookup,
		fieldUpdater: opts.FieldUpdater,
		tickets:      opts.Tickets,
		webhooks:     opts.Webhooks,
		activityLog:  opts.ActivityLog,
		logger:       opts.Logger,
		clock:        time.Now,
	}, nil
}

// CheckAndComplete completes the execution if every required step is
// completed. It returns true when the execution ended up completed (whether
// by this call or a concurrent one). Safe under concurrent invocation for
// the same execution.
func (r *CompletionResolver) CheckAndComplete(ctx context.Context, executionID, organizationID string) (bool, error) {
	steps, err := r.store.ListSteps(ctx, executionID, organizationID)
	if err != nil {
		return false, err
	}
	for _, step := range steps {
		if step.Evidence != nil && step.Evidence.Required && step.Status != StepStatusCompleted {
			return false, nil
		}
	}
	if _, err := r.CompleteWorkflow(ctx, executionID, organizationID); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteWorkflow transitions the execution to completed, marks the linked
// work item "Completed", and runs all configured completion callbacks. The
// transition is an atomic conditional update: a caller that loses the race
// observes the no-op and skips callback execution, which is what makes
// callbacks at-most-once.
func (r *CompletionResolver) CompleteWorkflow(ctx context.Context, executionID, organizationID string) (*Execution, error) {
	execution, err := r.store.GetExecution(ctx, executionID, organizationID)
	if err != nil {
		return nil, err
	}

	completedAt := r.clock()
	won, err := r.store.CompleteExecution(ctx, executionID, organizationID, completedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		r.logger.Debug("execution already completed", "execution_id", executionID)
		return r.store.GetExecution(ctx, executionID, organizationID)
	}
	execution.Status = ExecutionStatusCompleted
	execution.CompletedAt = completedAt

	// The engine state is committed at this point; everything below is
	// best-effort propagation and must not undo or mask the completion.
	if err := r.workItems.SetWorkItemStatus(ctx, execution.WorkItemID, organizationID, WorkItemStatusCompleted); err != nil {
		r.logger.Warn("failed to update work item status",
			"work_item_id", execution.WorkItemID, "error", err)
	}

	r.logger.Info("workflow execution completed",
		"execution_id", executionID,
		"work_item_id", execution.WorkItemID)

	steps, err := r.store.ListSteps(ctx, executionID, organizationID)
	if err != nil {
		r.logger.Warn("failed to load steps for completion callbacks", "error", err)
		steps = nil
	}

	template, err := r.templates.GetTemplate(ctx, execution.TemplateID, organizationID)
	if err != nil {
		r.logger.Warn("failed to load template for completion callbacks",
			"template_id", execution.TemplateID, "error", err)
	} else {
		for _, callback := range template.Callbacks {
			if err := r.runCallback(ctx, callback, execution, steps); err != nil {
				r.logCallbackFailure(ctx, callback, execution, err)
			}
		}
	}

	entry := newActivityLogEntry(ActivityKindWorkflowCompleted)
	entry.OrganizationID = organizationID
	entry.WorkItemID = execution.WorkItemID
	entry.ExecutionID = executionID
	entry.Message = "workflow execution completed"
	if err := r.activityLog.LogActivity(ctx, entry); err != nil {
		r.logger.Warn("failed to record completion activity", "error", err)
	}
	return execution, nil
}

func (r *CompletionResolver) logCallbackFailure(ctx context.Context, callback *CompletionCallback, execution *Execution, cause error) {
	r.logger.Warn("completion callback failed",
		"execution_id", execution.ID,
		"integration", callback.IntegrationName,
		"error", cause)
	entry := newActivityLogEntry(ActivityKindCallbackFailed)
	entry.OrganizationID = execution.OrganizationID
	entry.WorkItemID = execution.WorkItemID
	entry.ExecutionID = execution.ID
	entry.Message = cause.Error()
	entry.Details = map[string]any{"integration": callback.IntegrationName}
	if err := r.activityLog.LogActivity(ctx, entry); err != nil {
		r.logger.Warn("failed to record callback failure activity", "error", err)
	}
}
