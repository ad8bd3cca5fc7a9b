package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// staticTemplateProvider serves templates from a fixed map.
type staticTemplateProvider struct {
	templates map[string]*WorkflowTemplate
}

func (p *staticTemplateProvider) GetTemplate(ctx context.Context, templateID, organizationID string) (*WorkflowTemplate, error) {
	template, ok := p.templates[templateID]
	if !ok {
		return nil, NewNotFoundError("template %q not found", templateID)
	}
	return template, nil
}

// capturingActivityLogger records entries in memory.
type capturingActivityLogger struct {
	mutex   sync.Mutex
	entries []*ActivityLogEntry
}

func (l *capturingActivityLogger) LogActivity(ctx context.Context, entry *ActivityLogEntry) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *capturingActivityLogger) GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var entries []*ActivityLogEntry
	for _, entry := range l.entries {
		if entry.ExecutionID == executionID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (l *capturingActivityLogger) kinds() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var kinds []string
	for _, entry := range l.entries {
		kinds = append(kinds, entry.Kind)
	}
	return kinds
}

type fieldUpdate struct {
	Table    string
	RecordID string
	Field    string
	Value    any
}

// recordingFieldUpdater captures UpdateField calls and enforces a per-table
// allowed field set when configured.
type recordingFieldUpdater struct {
	mutex   sync.Mutex
	allowed map[string]map[string]bool
	updates []fieldUpdate
}

func (u *recordingFieldUpdater) AllowedFields(ctx context.Context, table, organizationID string) (map[string]bool, error) {
	if u.allowed == nil {
		return nil, nil
	}
	return u.allowed[table], nil
}

func (u *recordingFieldUpdater) UpdateField(ctx context.Context, table, recordID, field string, value any) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.updates = append(u.updates, fieldUpdate{Table: table, RecordID: recordID, Field: field, Value: value})
	return nil
}

func (u *recordingFieldUpdater) recorded() []fieldUpdate {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return append([]fieldUpdate(nil), u.updates...)
}

// staticSourceLookup returns one fixed work item source.
type staticSourceLookup struct {
	source *WorkItemSource
}

func (l *staticSourceLookup) GetWorkItemSource(ctx context.Context, workItemID, organizationID string) (*WorkItemSource, error) {
	return l.source, nil
}

// recordingTicketClient captures ticket system calls.
type recordingTicketClient struct {
	mutex    sync.Mutex
	statuses []string
	messages []string
}

func (c *recordingTicketClient) UpdateTicketStatus(ctx context.Context, entityType, entityID, statusID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.statuses = append(c.statuses, entityType+"/"+entityID+"/"+statusID)
	return nil
}

func (c *recordingTicketClient) AddTicketMessage(ctx context.Context, entityID, text string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.messages = append(c.messages, text)
	return nil
}

// testEngine wires the full engine over in-memory stores and fakes.
type testEngine struct {
	store      *MemoryStore
	sessions   *MemorySessionStore
	workItems  *MemoryWorkItemStore
	templates  *staticTemplateProvider
	activity   *capturingActivityLogger
	updater    *recordingFieldUpdater
	tickets    *recordingTicketClient
	lookup     *staticSourceLookup
	manager    *ExecutionManager
	completion *CompletionResolver
	steps      *StepMachine
	uploads    *UploadReassembler
}

func newTestEngine(t *testing.T, template *WorkflowTemplate, items ...*WorkItem) *testEngine {
	t.Helper()

	engine := &testEngine{
		store:     NewMemoryStore(),
		sessions:  NewMemorySessionStore(0),
		workItems: NewMemoryWorkItemStore(items...),
		templates: &staticTemplateProvider{templates: map[string]*WorkflowTemplate{}},
		activity:  &capturingActivityLogger{},
		updater:   &recordingFieldUpdater{},
		tickets:   &recordingTicketClient{},
		lookup:    &staticSourceLookup{},
	}
	if template != nil {
		engine.templates.templates[template.ID] = template
	}

	var err error
	engine.manager, err = NewExecutionManager(ExecutionManagerOptions{
		Store:     engine.store,
		Templates: engine.templates,
		WorkItems: engine.workItems,
	})
	require.NoError(t, err)

	engine.completion, err = NewCompletionResolver(CompletionResolverOptions{
		Store:        engine.store,
		Templates:    engine.templates,
		WorkItems:    engine.workItems,
		SourceLookup: engine.lookup,
		FieldUpdater: engine.updater,
		Tickets:      engine.tickets,
		ActivityLog:  engine.activity,
	})
	require.NoError(t, err)

	engine.steps, err = NewStepMachine(StepMachineOptions{
		Store:      engine.store,
		Completion: engine.completion,
	})
	require.NoError(t, err)

	engine.uploads, err = NewUploadReassembler(UploadReassemblerOptions{
		Sessions: engine.sessions,
		Steps:    engine.steps,
	})
	require.NoError(t, err)
	return engine
}

// inspectionTemplate is the standard three-step fixture used across tests.
func inspectionTemplate() *WorkflowTemplate {
	return &WorkflowTemplate{
		ID:   "tmpl-inspection",
		Name: "Site Inspection",
		Steps: []*StepDefinition{
			{
				ID:       "safety-check",
				Title:    "Safety checklist",
				Type:     StepTypeChecklist,
				Required: true,
				ChecklistItems: []*ChecklistItem{
					{ID: "gloves", Label: "Gloves on", Required: true},
					{ID: "helmet", Label: "Helmet on", Required: true},
				},
			},
			{
				ID:       "site-photos",
				Title:    "Site photos",
				Type:     StepTypePhoto,
				Required: true,
				PhotoConfig: &PhotoConfig{
					MinCount: 1,
				},
				PhotoAnalysisConfig: &PhotoAnalysisConfig{
					Enabled:      true,
					DocumentType: "meter_reading",
				},
			},
			{
				ID:       "signoff",
				Title:    "Supervisor signoff",
				Type:     StepTypeForm,
				Required: true,
				FormFields: []*FormField{
					{Name: "amount", Type: "number"},
					{Name: "supervisor", Type: "text"},
				},
			},
		},
	}
}

func inspectionWorkItem() *WorkItem {
	return &WorkItem{
		ID:             "wi-1",
		OrganizationID: "org-1",
		TemplateID:     "tmpl-inspection",
		Status:         "Open",
		Metadata:       map[string]any{"ticket_id": "TK-99", "invoice_id": "inv-7"},
	}
}

// startInspection starts an execution for the standard fixture and returns
// it with its steps.
func startInspection(t *testing.T, engine *testEngine) (*Execution, []*ExecutionStep) {
	t.Helper()
	execution, err := engine.manager.Start(context.Background(), "wi-1", "org-1")
	require.NoError(t, err)
	steps, err := engine.store.ListSteps(context.Background(), execution.ID, "org-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	return execution, steps
}

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }
