package workflow

// MaterializeSteps creates the fixed ordered set of execution steps for a new
// execution. Each template step definition becomes one step with
// status=not_started and evidence seeded from the definition's configuration.
// That seed is the template-carried evidence later merges must preserve.
func MaterializeSteps(template *WorkflowTemplate, executionID, workItemID, organizationID string) []*ExecutionStep {
	steps := make([]*ExecutionStep, 0, len(template.Steps))
	for index, definition := range template.Steps {
		steps = append(steps, &ExecutionStep{
			ID:             NewStepID(),
			ExecutionID:    executionID,
			WorkItemID:     workItemID,
			OrganizationID: organizationID,
			StepIndex:      index,
			Title:          definition.Title,
			Description:    definition.Description,
			Status:         StepStatusNotStarted,
			Evidence: &Evidence{
				StepID:              definition.ID,
				StepType:            definition.Type,
				Required:            definition.Required,
				ChecklistItems:      definition.ChecklistItems,
				FormFields:          definition.FormFields,
				PhotoConfig:         definition.PhotoConfig,
				PhotoAnalysisConfig: definition.PhotoAnalysisConfig,
				Config:              copyMap(definition.Config),
			},
		})
	}
	return steps
}
