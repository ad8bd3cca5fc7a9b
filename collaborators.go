package workflow

import "context"

// WorkItem is the task-like record a workflow execution is attached to. Only
// the fields the engine needs are modeled here; broader work item semantics
// live in collaborators.
type WorkItem struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	TemplateID     string         `json:"template_id,omitempty"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// WorkItemStatusCompleted is the status written to a work item when its
// execution completes.
const WorkItemStatusCompleted = "Completed"

// TemplateProvider returns workflow templates by id. Template storage and
// authoring are external to the engine.
type TemplateProvider interface {
	GetTemplate(ctx context.Context, templateID, organizationID string) (*WorkflowTemplate, error)
}

// WorkItemStore provides the engine's view of work item records.
type WorkItemStore interface {
	GetWorkItem(ctx context.Context, workItemID, organizationID string) (*WorkItem, error)
	SetWorkItemStatus(ctx context.Context, workItemID, organizationID, status string) error
	GetWorkItemMetadata(ctx context.Context, workItemID, organizationID string) (map[string]any, error)
}

// WorkItemSource identifies the record a work item was generated from.
type WorkItemSource struct {
	SourceTable string
	RecordID    string
}

// WorkItemSourceLookup resolves the source record backing a work item.
// Implementations return (nil, nil) when the work item has no source.
type WorkItemSourceLookup interface {
	GetWorkItemSource(ctx context.Context, workItemID, organizationID string) (*WorkItemSource, error)
}

// DatabaseFieldUpdater applies resolved callback field values to records in
// external tables. AllowedFields returns the writable field set for a table,
// or nil when the table is unrestricted.
type DatabaseFieldUpdater interface {
	AllowedFields(ctx context.Context, table, organizationID string) (map[string]bool, error)
	UpdateField(ctx context.Context, table, recordID, field string, value any) error
}

// TicketSystemClient propagates completion to an external ticketing system.
type TicketSystemClient interface {
	UpdateTicketStatus(ctx context.Context, entityType, entityID, statusID string) error
	AddTicketMessage(ctx context.Context, entityID, text string) error
}

// PhotoAnalysisResult is the outcome of analyzing one photo.
type PhotoAnalysisResult struct {
	Success       bool           `json:"success"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
}

// PhotoAnalyzer runs document analysis over photo evidence. The analysis
// engine itself is external; failures here are always best-effort.
type PhotoAnalyzer interface {
	AnalyzePhoto(ctx context.Context, photo *Photo, config *PhotoAnalysisConfig) (*PhotoAnalysisResult, error)
}

// NullWorkItemSourceLookup is a no-op implementation of WorkItemSourceLookup.
type NullWorkItemSourceLookup struct{}

func NewNullWorkItemSourceLookup() *NullWorkItemSourceLookup {
	return &NullWorkItemSourceLookup{}
}

func (l *NullWorkItemSourceLookup) GetWorkItemSource(ctx context.Context, workItemID, organizationID string) (*WorkItemSource, error) {
	return nil, nil
}

// NullDatabaseFieldUpdater is a no-op implementation of DatabaseFieldUpdater.
type NullDatabaseFieldUpdater struct{}

func NewNullDatabaseFieldUpdater() *NullDatabaseFieldUpdater {
	return &NullDatabaseFieldUpdater{}
}

func (u *NullDatabaseFieldUpdater) AllowedFields(ctx context.Context, table, organizationID string) (map[string]bool, error) {
	return nil, nil
}

func (u *NullDatabaseFieldUpdater) UpdateField(ctx context.Context, table, recordID, field string, value any) error {
	return nil
}

// NullTicketSystemClient is a no-op implementation of TicketSystemClient.
type NullTicketSystemClient struct{}

func NewNullTicketSystemClient() *NullTicketSystemClient {
	return &NullTicketSystemClient{}
}

func (c *NullTicketSystemClient) UpdateTicketStatus(ctx context.Context, entityType, entityID, statusID string) error {
	return nil
}

func (c *NullTicketSystemClient) AddTicketMessage(ctx context.Context, entityID, text string) error {
	return nil
}

// NullPhotoAnalyzer is a no-op implementation of PhotoAnalyzer.
type NullPhotoAnalyzer struct{}

func NewNullPhotoAnalyzer() *NullPhotoAnalyzer {
	return &NullPhotoAnalyzer{}
}

func (a *NullPhotoAnalyzer) AnalyzePhoto(ctx context.Context, photo *Photo, config *PhotoAnalysisConfig) (*PhotoAnalysisResult, error) {
	return &PhotoAnalysisResult{Success: true}, nil
}
