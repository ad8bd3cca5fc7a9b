package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Activity entry kinds recorded by the engine
const (
	ActivityKindWorkflowCompleted   = "workflow_completed"
	ActivityKindCallbackFailed      = "callback_failed"
	ActivityKindPhotoAnalysis       = "photo_analysis"
	ActivityKindPhotoAnalysisFailed = "photo_analysis_failed"
)

// ActivityLogEntry represents a single engine activity record
type ActivityLogEntry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	WorkItemID     string         `json:"work_item_id,omitempty"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	StepID         string         `json:"step_id,omitempty"`
	Kind           string         `json:"kind"`
	Message        string         `json:"message,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ActivityLogger defines simple activity logging interface. Activity storage
// is external; entries are best-effort audit records, never engine state.
type ActivityLogger interface {
	// LogActivity records one engine activity entry
	LogActivity(ctx context.Context, entry *ActivityLogEntry) error

	// GetActivityHistory retrieves activity entries for an execution
	GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error)
}

// newActivityLogEntry stamps id and creation time on an entry.
func newActivityLogEntry(kind string) *ActivityLogEntry {
	return &ActivityLogEntry{
		ID:        uuid.New().String(),
		Kind:      kind,
		CreatedAt: time.Now(),
	}
}
