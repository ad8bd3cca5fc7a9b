package workflow

import "strings"

// valueSource is one strategy for resolving a callback field mapping. The
// resolver tries sources in a fixed documented order and stops at the first
// one that yields a present value.
type valueSource interface {
	resolve(sourceStepID, sourceField string) (any, bool)
}

// present reports whether a resolved value counts as non-empty. nil and the
// empty string are treated as absent; every other value (including false and
// zero) is a real answer.
func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

// legacyGeolocationSource reads executionData[step].geolocation[field].
// Part of the transitional legacy blob; remove once all writers migrate to
// step evidence.
type legacyGeolocationSource struct {
	data map[string]*LegacyStepData
}

func (s legacyGeolocationSource) resolve(stepID, field string) (any, bool) {
	entry := s.data[stepID]
	if entry == nil {
		return nil, false
	}
	v, ok := entry.Geolocation[field]
	return v, ok
}

// legacyDataSource reads executionData[step].data[field].
type legacyDataSource struct {
	data map[string]*LegacyStepData
}

func (s legacyDataSource) resolve(stepID, field string) (any, bool) {
	entry := s.data[stepID]
	if entry == nil {
		return nil, false
	}
	v, ok := entry.Data[field]
	return v, ok
}

// legacyNotesSource reads executionData[step].notes, only for
// sourceField == "notes".
type legacyNotesSource struct {
	data map[string]*LegacyStepData
}

func (s legacyNotesSource) resolve(stepID, field string) (any, bool) {
	if field != "notes" {
		return nil, false
	}
	entry := s.data[stepID]
	if entry == nil || entry.Notes == "" {
		return nil, false
	}
	return entry.Notes, true
}

// evidenceFieldSource reads step.evidence[field] on the step whose seeded
// template step id matches.
type evidenceFieldSource struct {
	steps map[string]*ExecutionStep
}

func (s evidenceFieldSource) resolve(stepID, field string) (any, bool) {
	step := s.steps[stepID]
	if step == nil {
		return nil, false
	}
	return step.Evidence.Field(field)
}

// evidenceCheckedSource reads step.evidence.checked, only for
// sourceField == "checked".
type evidenceCheckedSource struct {
	steps map[string]*ExecutionStep
}

func (s evidenceCheckedSource) resolve(stepID, field string) (any, bool) {
	if field != "checked" {
		return nil, false
	}
	step := s.steps[stepID]
	if step == nil || step.Evidence == nil || step.Evidence.Checked == nil {
		return nil, false
	}
	return *step.Evidence.Checked, true
}

// stepNotesSource reads step.notes, only for sourceField == "text".
type stepNotesSource struct {
	steps map[string]*ExecutionStep
}

func (s stepNotesSource) resolve(stepID, field string) (any, bool) {
	if field != "text" {
		return nil, false
	}
	step := s.steps[stepID]
	if step == nil || step.Notes == "" {
		return nil, false
	}
	return step.Notes, true
}

// fieldResolver resolves callback field mappings against an execution's
// legacy data blob and its steps' evidence.
type fieldResolver struct {
	sources []valueSource
}

// newFieldResolver builds the documented fallback chain: legacy geolocation,
// legacy data, legacy notes, evidence field, evidence checked, step notes.
func newFieldResolver(execution *Execution, steps []*ExecutionStep) *fieldResolver {
	byTemplateStep := make(map[string]*ExecutionStep, len(steps))
	for _, step := range steps {
		if id := step.TemplateStepID(); id != "" {
			byTemplateStep[id] = step
		}
	}
	data := execution.Data
	if data == nil {
		data = map[string]*LegacyStepData{}
	}
	return &fieldResolver{
		sources: []valueSource{
			legacyGeolocationSource{data},
			legacyDataSource{data},
			legacyNotesSource{data},
			evidenceFieldSource{byTemplateStep},
			evidenceCheckedSource{byTemplateStep},
			stepNotesSource{byTemplateStep},
		},
	}
}

// Resolve returns the first present value the source chain yields for the
// mapping, or (nil, false) when the mapping should be skipped.
func (r *fieldResolver) Resolve(mapping *FieldMapping) (any, bool) {
	for _, source := range r.sources {
		if v, ok := source.resolve(mapping.SourceStepID, mapping.SourceField); ok && present(v) {
			return v, true
		}
	}
	return nil, false
}

// Payload keys always present in a resolved callback payload. These are
// reserved: a field mapping cannot be written to an external record under
// any of them.
const (
	payloadKeyOrganizationID = "organizationId"
	payloadKeyWorkItemID     = "workItemId"
	payloadKeyPhotos         = "photos"
	payloadKeyNotes          = "notes"
)

func reservedPayloadKey(key string) bool {
	switch key {
	case payloadKeyOrganizationID, payloadKeyWorkItemID, payloadKeyPhotos, payloadKeyNotes:
		return true
	}
	return false
}

// buildCallbackPayload resolves every field mapping (skipping those with no
// value) and aggregates the always-present fields: all photos found across
// the execution (legacy blob first, then step evidence, in step order), all
// notes concatenated, organization id and work item id.
func buildCallbackPayload(execution *Execution, steps []*ExecutionStep, mappings []*FieldMapping) map[string]any {
	resolver := newFieldResolver(execution, steps)

	payload := map[string]any{
		payloadKeyOrganizationID: execution.OrganizationID,
		payloadKeyWorkItemID:     execution.WorkItemID,
	}
	for _, mapping := range mappings {
		if v, ok := resolver.Resolve(mapping); ok {
			payload[mapping.TargetField] = v
		}
	}

	var photos []*Photo
	var notes []string
	for _, step := range steps {
		if entry := execution.Data[step.TemplateStepID()]; entry != nil {
			photos = append(photos, entry.Photos...)
			if entry.Notes != "" {
				notes = append(notes, entry.Notes)
			}
		}
		if step.Evidence != nil {
			photos = append(photos, step.Evidence.Photos...)
		}
		if step.Notes != "" {
			notes = append(notes, step.Notes)
		}
	}
	payload[payloadKeyPhotos] = photos
	payload[payloadKeyNotes] = strings.Join(notes, "\n")
	return payload
}
