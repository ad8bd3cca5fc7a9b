package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StepType identifies the kind of work a step definition asks for.
type StepType string

const (
	StepTypeChecklist StepType = "checklist"
	StepTypeApproval  StepType = "approval"
	StepTypeForm      StepType = "form"
	StepTypePhoto     StepType = "photo"
)

func validStepType(t StepType) bool {
	switch t {
	case StepTypeChecklist, StepTypeApproval, StepTypeForm, StepTypePhoto:
		return true
	}
	return false
}

// ChecklistItem is one checkable item in a checklist step.
type ChecklistItem struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// FormField is one input field in a form step.
type FormField struct {
	Name     string   `json:"name" yaml:"name"`
	Label    string   `json:"label,omitempty" yaml:"label,omitempty"`
	Type     string   `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Options  []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// PhotoConfig constrains the photos collected by a photo step.
type PhotoConfig struct {
	MinCount     int    `json:"min_count,omitempty" yaml:"min_count,omitempty"`
	MaxCount     int    `json:"max_count,omitempty" yaml:"max_count,omitempty"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// PhotoAnalysisConfig enables best-effort analysis of photo evidence.
type PhotoAnalysisConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	DocumentType  string   `json:"document_type,omitempty" yaml:"document_type,omitempty"`
	ExtractFields []string `json:"extract_fields,omitempty" yaml:"extract_fields,omitempty"`
}

// StepDefinition describes one step of a workflow template. The definition's
// configuration is seeded into the execution step's evidence at
// materialization time and preserved across all later evidence merges.
type StepDefinition struct {
	ID                  string               `json:"id" yaml:"id"`
	Title               string               `json:"title" yaml:"title"`
	Description         string               `json:"description,omitempty" yaml:"description,omitempty"`
	Type                StepType             `json:"type" yaml:"type"`
	Required            bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	ChecklistItems      []*ChecklistItem     `json:"checklist_items,omitempty" yaml:"checklist_items,omitempty"`
	FormFields          []*FormField         `json:"form_fields,omitempty" yaml:"form_fields,omitempty"`
	PhotoConfig         *PhotoConfig         `json:"photo_config,omitempty" yaml:"photo_config,omitempty"`
	PhotoAnalysisConfig *PhotoAnalysisConfig `json:"photo_analysis_config,omitempty" yaml:"photo_analysis_config,omitempty"`
	Config              map[string]any       `json:"config,omitempty" yaml:"config,omitempty"`
}

// FieldMapping maps a (step, field) pair to a target field name in a
// completion callback payload.
type FieldMapping struct {
	SourceStepID string `json:"source_step_id" yaml:"source_step_id"`
	SourceField  string `json:"source_field" yaml:"source_field"`
	TargetField  string `json:"target_field" yaml:"target_field"`
}

// WebhookSpec configures an outbound HTTP call fired on completion.
type WebhookSpec struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DatabaseUpdateSpec configures generic record field updates fired on
// completion. The target record id resolves from the linked work item source
// when available, otherwise from work item metadata under RecordIDMetadataKey.
type DatabaseUpdateSpec struct {
	TargetTable         string `json:"target_table" yaml:"target_table"`
	RecordIDSource      string `json:"record_id_source,omitempty" yaml:"record_id_source,omitempty"`
	RecordIDMetadataKey string `json:"record_id_metadata_key,omitempty" yaml:"record_id_metadata_key,omitempty"`
}

// TicketSystemSpec configures a ticket-system status change and/or message
// fired on completion. Message supports {workItemId} and {completedAt}
// substitution.
type TicketSystemSpec struct {
	Action     string `json:"action,omitempty" yaml:"action,omitempty"`
	EntityType string `json:"entity_type" yaml:"entity_type"`
	StatusID   string `json:"status_id,omitempty" yaml:"status_id,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// CompletionCallback is a declarative action fired once an execution
// completes. A callback may declare more than one shape; all declared
// behaviors run.
type CompletionCallback struct {
	IntegrationName string              `json:"integration_name,omitempty" yaml:"integration_name,omitempty"`
	Action          string              `json:"action,omitempty" yaml:"action,omitempty"`
	Mappings        []*FieldMapping     `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Webhook         *WebhookSpec        `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	DatabaseUpdate  *DatabaseUpdateSpec `json:"database_update,omitempty" yaml:"database_update,omitempty"`
	Ticket          *TicketSystemSpec   `json:"ticket,omitempty" yaml:"ticket,omitempty"`
}

// WorkflowTemplate defines the ordered steps and completion callbacks that a
// work item's execution is instantiated from. Templates are authored
// externally; the engine treats them as read-only.
type WorkflowTemplate struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []*StepDefinition     `json:"steps" yaml:"steps"`
	Callbacks   []*CompletionCallback `json:"callbacks,omitempty" yaml:"callbacks,omitempty"`
}

// GetStep returns a step definition by id.
func (t *WorkflowTemplate) GetStep(id string) (*StepDefinition, bool) {
	for _, step := range t.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return nil, false
}

// Validate checks if the template is properly configured.
func (t *WorkflowTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name required")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template must have at least one step")
	}
	seen := make(map[string]bool, len(t.Steps))
	for _, step := range t.Steps {
		if step.ID == "" {
			return fmt.Errorf("step id required")
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if !validStepType(step.Type) {
			return fmt.Errorf("step %q has unknown type %q", step.ID, step.Type)
		}
	}
	for _, cb := range t.Callbacks {
		for _, mapping := range cb.Mappings {
			if mapping.TargetField == "" {
				return fmt.Errorf("callback %q mapping missing target field", cb.IntegrationName)
			}
			if !seen[mapping.SourceStepID] {
				return fmt.Errorf("callback %q maps unknown step %q", cb.IntegrationName, mapping.SourceStepID)
			}
		}
		if cb.Webhook != nil && cb.Webhook.URL == "" {
			return fmt.Errorf("callback %q webhook missing url", cb.IntegrationName)
		}
		if cb.DatabaseUpdate != nil && cb.DatabaseUpdate.TargetTable == "" {
			return fmt.Errorf("callback %q database update missing target table", cb.IntegrationName)
		}
	}
	return nil
}

// LoadFile loads a workflow template from a YAML file
func LoadFile(path string) (*WorkflowTemplate, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a workflow template from a YAML string
func LoadString(data string) (*WorkflowTemplate, error) {
	var template WorkflowTemplate
	if err := yaml.Unmarshal([]byte(data), &template); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("template validation failed: %w", err)
	}
	return &template, nil
}
