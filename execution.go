package workflow

import (
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new prefixed ID for execution identification
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewStepID returns a new prefixed ID for execution step identification
func NewStepID() string {
	id, err := typeid.WithPrefix("step")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
)

// StepStatus represents the status of a single execution step
type StepStatus string

const (
	StepStatusNotStarted StepStatus = "not_started"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusCancelled  StepStatus = "cancelled"
)

func validStepStatus(s StepStatus) bool {
	switch s {
	case StepStatusNotStarted, StepStatusInProgress, StepStatusCompleted, StepStatusCancelled:
		return true
	}
	return false
}

// LegacyStepData is the keyed execution-data blob retained for backward
// compatibility with writers that predate per-step evidence. Resolvers
// consult it before step evidence; no new code should write to it.
type LegacyStepData struct {
	Data        map[string]any `json:"data,omitempty"`
	Geolocation map[string]any `json:"geolocation,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Photos      []*Photo       `json:"photos,omitempty"`
}

// Execution represents one run of a workflow template against a work item.
// At most one in_progress execution exists per work item; the status is
// terminal once completed.
type Execution struct {
	ID             string                     `json:"id"`
	WorkItemID     string                     `json:"work_item_id"`
	OrganizationID string                     `json:"organization_id"`
	TemplateID     string                     `json:"template_id"`
	Status         ExecutionStatus            `json:"status"`
	Data           map[string]*LegacyStepData `json:"data,omitempty"`
	CurrentStepID  string                     `json:"current_step_id,omitempty"`
	StartedAt      time.Time                  `json:"started_at,omitzero"`
	CompletedAt    time.Time                  `json:"completed_at,omitzero"`
}

// Copy returns a shallow copy of the execution with its own legacy data map.
func (e *Execution) Copy() *Execution {
	dup := *e
	if e.Data != nil {
		dup.Data = make(map[string]*LegacyStepData, len(e.Data))
		for k, v := range e.Data {
			dup.Data[k] = v
		}
	}
	return &dup
}

// ExecutionStep is one step's live state within an execution. The set and
// order of steps is fixed when the execution is created.
type ExecutionStep struct {
	ID             string     `json:"id"`
	ExecutionID    string     `json:"execution_id"`
	WorkItemID     string     `json:"work_item_id"`
	OrganizationID string     `json:"organization_id"`
	StepIndex      int        `json:"step_index"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         StepStatus `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	Evidence       *Evidence  `json:"evidence,omitempty"`
	CompletedAt    time.Time  `json:"completed_at,omitzero"`
	CompletedBy    string     `json:"completed_by,omitempty"`
}

// Copy returns a copy of the step with its own evidence record.
func (s *ExecutionStep) Copy() *ExecutionStep {
	dup := *s
	if s.Evidence != nil {
		dup.Evidence = s.Evidence.Copy()
	}
	return &dup
}

// TemplateStepID returns the template step id seeded into the step's
// evidence, or "" when the step carries no evidence.
func (s *ExecutionStep) TemplateStepID() string {
	if s.Evidence == nil {
		return ""
	}
	return s.Evidence.StepID
}
