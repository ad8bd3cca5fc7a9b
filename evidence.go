package workflow

import (
	"encoding/json"
	"time"
)

// Photo is one collected photo evidence entry.
type Photo struct {
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileAttachment is a reassembled evidence file. FileData holds the
// base64-encoded file contents.
type FileAttachment struct {
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	FileData   string    `json:"file_data"`
	UploadedAt time.Time `json:"uploaded_at,omitzero"`
}

// Evidence is the structured record of data collected for a step. The
// template-carried fields (StepID, StepType, Required, ChecklistItems,
// FormFields, PhotoConfig, PhotoAnalysisConfig, Config) are seeded at
// materialization and survive every merge. The collected fields (Photos,
// Checked, Files) and the open Extra map are writable through patches.
type Evidence struct {
	StepID              string               `json:"step_id,omitempty"`
	StepType            StepType             `json:"step_type,omitempty"`
	Required            bool                 `json:"required,omitempty"`
	ChecklistItems      []*ChecklistItem     `json:"checklist_items,omitempty"`
	FormFields          []*FormField         `json:"form_fields,omitempty"`
	PhotoConfig         *PhotoConfig         `json:"photo_config,omitempty"`
	PhotoAnalysisConfig *PhotoAnalysisConfig `json:"photo_analysis_config,omitempty"`
	Config              map[string]any       `json:"config,omitempty"`

	Photos  []*Photo          `json:"photos,omitempty"`
	Checked *bool             `json:"checked,omitempty"`
	Files   []*FileAttachment `json:"files,omitempty"`

	// Extra carries arbitrary collected values (form answers, free-form
	// fields) that have no first-class representation.
	Extra map[string]any `json:"-"`
}

// evidenceKnownKeys are the JSON keys owned by first-class Evidence fields.
var evidenceKnownKeys = map[string]bool{
	"step_id":               true,
	"step_type":             true,
	"required":              true,
	"checklist_items":       true,
	"form_fields":           true,
	"photo_config":          true,
	"photo_analysis_config": true,
	"config":                true,
	"photos":                true,
	"checked":               true,
	"files":                 true,
}

// Copy returns a copy of the evidence with its own maps and slices.
func (e *Evidence) Copy() *Evidence {
	if e == nil {
		return nil
	}
	dup := *e
	dup.ChecklistItems = append([]*ChecklistItem(nil), e.ChecklistItems...)
	dup.FormFields = append([]*FormField(nil), e.FormFields...)
	dup.Photos = append([]*Photo(nil), e.Photos...)
	dup.Files = append([]*FileAttachment(nil), e.Files...)
	dup.Config = copyMap(e.Config)
	dup.Extra = copyMap(e.Extra)
	return &dup
}

// Merge applies a patch to the evidence: the patch's collected fields and
// Extra keys overwrite, while the template-carried fields are reasserted
// from the pre-merge evidence. A patch that omits or nulls a template-carried
// key therefore cannot erase it.
func (e *Evidence) Merge(patch *Evidence) *Evidence {
	if e == nil {
		e = &Evidence{}
	}
	merged := e.Copy()
	if patch == nil {
		return merged
	}
	if patch.Photos != nil {
		merged.Photos = append([]*Photo(nil), patch.Photos...)
	}
	if patch.Checked != nil {
		checked := *patch.Checked
		merged.Checked = &checked
	}
	if patch.Files != nil {
		merged.Files = append([]*FileAttachment(nil), patch.Files...)
	}
	if len(patch.Extra) > 0 {
		if merged.Extra == nil {
			merged.Extra = make(map[string]any, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			merged.Extra[k] = v
		}
	}
	return merged
}

// Field returns a named value from the evidence, checking first-class
// fields (collected and template-carried) before the Extra map.
func (e *Evidence) Field(name string) (any, bool) {
	if e == nil {
		return nil, false
	}
	switch name {
	case "photos":
		if e.Photos != nil {
			return e.Photos, true
		}
	case "checked":
		if e.Checked != nil {
			return *e.Checked, true
		}
	case "files":
		if e.Files != nil {
			return e.Files, true
		}
	case "step_id":
		if e.StepID != "" {
			return e.StepID, true
		}
	case "step_type":
		if e.StepType != "" {
			return string(e.StepType), true
		}
	case "required":
		return e.Required, true
	case "checklist_items":
		if e.ChecklistItems != nil {
			return e.ChecklistItems, true
		}
	case "form_fields":
		if e.FormFields != nil {
			return e.FormFields, true
		}
	case "photo_config":
		if e.PhotoConfig != nil {
			return e.PhotoConfig, true
		}
	case "photo_analysis_config":
		if e.PhotoAnalysisConfig != nil {
			return e.PhotoAnalysisConfig, true
		}
	case "config":
		if e.Config != nil {
			return e.Config, true
		}
	}
	v, ok := e.Extra[name]
	return v, ok
}

// evidenceAlias avoids marshal recursion on Evidence.
type evidenceAlias Evidence

// MarshalJSON folds the Extra map into the top-level object. First-class
// fields win over colliding Extra keys.
func (e *Evidence) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal((*evidenceAlias)(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return known, nil
	}
	var out map[string]any
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON routes unknown top-level keys into the Extra map.
func (e *Evidence) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*evidenceAlias)(e)); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if evidenceKnownKeys[k] {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return err
		}
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}
		e.Extra[k] = value
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}
