package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// resolverFixture builds an execution with a legacy data blob plus two steps
// carrying evidence, covering every source in the resolution chain.
func resolverFixture() (*Execution, []*ExecutionStep) {
	execution := &Execution{
		ID:             "exec_test",
		WorkItemID:     "wi-1",
		OrganizationID: "org-1",
		Data: map[string]*LegacyStepData{
			"signoff": {
				Data:        map[string]any{"amount": 5},
				Geolocation: map[string]any{"lat": 52.1},
				Notes:       "legacy note",
				Photos:      []*Photo{{URL: "https://cdn.example.com/legacy.jpg"}},
			},
		},
	}
	steps := []*ExecutionStep{
		{
			ID:          "step_1",
			ExecutionID: execution.ID,
			StepIndex:   0,
			Status:      StepStatusCompleted,
			Notes:       "checked on site",
			Evidence: &Evidence{
				StepID:  "safety-check",
				Checked: boolPtr(true),
			},
		},
		{
			ID:          "step_2",
			ExecutionID: execution.ID,
			StepIndex:   1,
			Status:      StepStatusCompleted,
			Evidence: &Evidence{
				StepID: "signoff",
				Photos: []*Photo{{URL: "https://cdn.example.com/evidence.jpg"}},
				Extra:  map[string]any{"amount": 9, "supervisor": "Kim"},
			},
		},
	}
	return execution, steps
}

func TestFieldResolverPrecedence(t *testing.T) {
	execution, steps := resolverFixture()
	resolver := newFieldResolver(execution, steps)

	t.Run("legacy data wins over step evidence", func(t *testing.T) {
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "signoff", SourceField: "amount"})
		require.True(t, ok)
		require.Equal(t, 5, v)
	})

	t.Run("geolocation is consulted first", func(t *testing.T) {
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "signoff", SourceField: "lat"})
		require.True(t, ok)
		require.Equal(t, 52.1, v)
	})

	t.Run("legacy notes only answer the notes field", func(t *testing.T) {
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "signoff", SourceField: "notes"})
		require.True(t, ok)
		require.Equal(t, "legacy note", v)
	})

	t.Run("evidence fields answer when legacy has nothing", func(t *testing.T) {
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "signoff", SourceField: "supervisor"})
		require.True(t, ok)
		require.Equal(t, "Kim", v)
	})

	t.Run("checked resolves through the dedicated source", func(t *testing.T) {
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "safety-check", SourceField: "checked"})
		require.True(t, ok)
		require.Equal(t, true, v)
	})

	t.Run("text resolves from step notes", func(t *testing.T) {
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "safety-check", SourceField: "text"})
		require.True(t, ok)
		require.Equal(t, "checked on site", v)
	})

	t.Run("false is a present value", func(t *testing.T) {
		execution, steps := resolverFixture()
		steps[0].Evidence.Checked = boolPtr(false)
		resolver := newFieldResolver(execution, steps)
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "safety-check", SourceField: "checked"})
		require.True(t, ok)
		require.Equal(t, false, v)
	})

	t.Run("empty string is absent", func(t *testing.T) {
		execution, steps := resolverFixture()
		steps[1].Evidence.Extra["supervisor"] = ""
		resolver := newFieldResolver(execution, steps)
		_, ok := resolver.Resolve(&FieldMapping{SourceStepID: "signoff", SourceField: "supervisor"})
		require.False(t, ok)
	})

	t.Run("template-carried evidence keys resolve", func(t *testing.T) {
		execution, steps := resolverFixture()
		steps[0].Evidence.StepType = StepTypeChecklist
		resolver := newFieldResolver(execution, steps)
		v, ok := resolver.Resolve(&FieldMapping{SourceStepID: "safety-check", SourceField: "step_type"})
		require.True(t, ok)
		require.Equal(t, "checklist", v)

		v, ok = resolver.Resolve(&FieldMapping{SourceStepID: "safety-check", SourceField: "step_id"})
		require.True(t, ok)
		require.Equal(t, "safety-check", v)
	})

	t.Run("unknown field resolves nothing", func(t *testing.T) {
		_, ok := resolver.Resolve(&FieldMapping{SourceStepID: "signoff", SourceField: "nope"})
		require.False(t, ok)
	})

	t.Run("unknown step resolves nothing", func(t *testing.T) {
		_, ok := resolver.Resolve(&FieldMapping{SourceStepID: "ghost", SourceField: "amount"})
		require.False(t, ok)
	})
}

func TestBuildCallbackPayload(t *testing.T) {
	execution, steps := resolverFixture()

	payload := buildCallbackPayload(execution, steps, []*FieldMapping{
		{SourceStepID: "signoff", SourceField: "amount", TargetField: "total_amount"},
		{SourceStepID: "signoff", SourceField: "missing", TargetField: "absent"},
	})

	require.Equal(t, "org-1", payload["organizationId"])
	require.Equal(t, "wi-1", payload["workItemId"])
	require.Equal(t, 5, payload["total_amount"])
	require.NotContains(t, payload, "absent")

	// Photos aggregate legacy blob first, then evidence, in step order
	photos, ok := payload["photos"].([]*Photo)
	require.True(t, ok)
	require.Len(t, photos, 2)
	require.Equal(t, "https://cdn.example.com/legacy.jpg", photos[0].URL)
	require.Equal(t, "https://cdn.example.com/evidence.jpg", photos[1].URL)

	// Notes join step notes and the legacy blob entries
	require.Equal(t, "checked on site\nlegacy note", payload["notes"])
}

func TestBuildCallbackPayloadEmptyExecution(t *testing.T) {
	execution := &Execution{ID: "exec_x", WorkItemID: "wi-2", OrganizationID: "org-1"}
	payload := buildCallbackPayload(execution, nil, nil)
	require.Equal(t, "wi-2", payload["workItemId"])
	require.Empty(t, payload["photos"])
	require.Equal(t, "", payload["notes"])
}
