package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func analyzedStep() *ExecutionStep {
	return &ExecutionStep{
		ID:          "step_1",
		ExecutionID: "exec_1",
		WorkItemID:  "wi-1",
		Evidence: &Evidence{
			StepID:   "site-photos",
			StepType: StepTypePhoto,
		},
	}
}

func TestPhotoAnalysisTrigger(t *testing.T) {
	ctx := context.Background()
	config := &PhotoAnalysisConfig{Enabled: true, DocumentType: "meter_reading"}

	t.Run("records one success entry per photo", func(t *testing.T) {
		activity := &capturingActivityLogger{}
		analyzer := newSignalingAnalyzer(&PhotoAnalysisResult{
			Success:       true,
			Confidence:    0.88,
			ExtractedData: map[string]any{"reading": "1042"},
		}, nil)
		trigger := NewPhotoAnalysisTrigger(PhotoAnalysisTriggerOptions{
			Analyzer:    analyzer,
			ActivityLog: activity,
		})

		trigger.OnPhotosAdded(ctx, analyzedStep(), []*Photo{
			{URL: "https://cdn.example.com/a.jpg"},
			{URL: "https://cdn.example.com/b.jpg"},
		}, config, "org-1", "user-7")

		require.Equal(t, []string{ActivityKindPhotoAnalysis, ActivityKindPhotoAnalysis}, activity.kinds())
		entries, err := activity.GetActivityHistory(ctx, "exec_1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "org-1", entries[0].OrganizationID)
		require.Equal(t, "step_1", entries[0].StepID)
		require.Equal(t, 0.88, entries[0].Details["confidence"])
	})

	t.Run("analyzer errors are swallowed and audited", func(t *testing.T) {
		activity := &capturingActivityLogger{}
		analyzer := newSignalingAnalyzer(nil, errors.New("vision service down"))
		trigger := NewPhotoAnalysisTrigger(PhotoAnalysisTriggerOptions{
			Analyzer:    analyzer,
			ActivityLog: activity,
		})

		// Must not panic or propagate anything
		trigger.OnPhotosAdded(ctx, analyzedStep(), []*Photo{
			{URL: "https://cdn.example.com/a.jpg"},
		}, config, "org-1", "user-7")

		require.Equal(t, []string{ActivityKindPhotoAnalysisFailed}, activity.kinds())
		entries, err := activity.GetActivityHistory(ctx, "exec_1")
		require.NoError(t, err)
		require.Equal(t, "vision service down", entries[0].Message)
	})

	t.Run("unsuccessful analysis is audited as a failure", func(t *testing.T) {
		activity := &capturingActivityLogger{}
		analyzer := newSignalingAnalyzer(&PhotoAnalysisResult{
			Success: false,
			Errors:  []string{"document unreadable"},
		}, nil)
		trigger := NewPhotoAnalysisTrigger(PhotoAnalysisTriggerOptions{
			Analyzer:    analyzer,
			ActivityLog: activity,
		})

		trigger.OnPhotosAdded(ctx, analyzedStep(), []*Photo{
			{URL: "https://cdn.example.com/a.jpg"},
		}, config, "org-1", "user-7")

		require.Equal(t, []string{ActivityKindPhotoAnalysisFailed}, activity.kinds())
		entries, err := activity.GetActivityHistory(ctx, "exec_1")
		require.NoError(t, err)
		require.Equal(t, []string{"document unreadable"}, entries[0].Details["errors"])
	})
}
