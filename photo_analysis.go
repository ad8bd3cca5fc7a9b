package workflow

import (
	"context"
	"io"
	"log/slog"
)

// PhotoAnalysisTriggerOptions configures a new PhotoAnalysisTrigger
type PhotoAnalysisTriggerOptions struct {
	Analyzer    PhotoAnalyzer
	ActivityLog ActivityLogger
	Logger      *slog.Logger
}

// PhotoAnalysisTrigger runs best-effort analysis when photo evidence arrives
// on a step with analysis enabled. Failures are logged per photo and never
// reach the caller; photo evidence is recorded regardless of the analysis
// outcome.
type PhotoAnalysisTrigger struct {
	analyzer    PhotoAnalyzer
	activityLog ActivityLogger
	logger      *slog.Logger
}

// NewPhotoAnalysisTrigger creates a new PhotoAnalysisTrigger
func NewPhotoAnalysisTrigger(opts PhotoAnalysisTriggerOptions) *PhotoAnalysisTrigger {
	if opts.Analyzer == nil {
		opts.Analyzer = NewNullPhotoAnalyzer()
	}
	if opts.ActivityLog == nil {
		opts.ActivityLog = NewNullActivityLogger()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PhotoAnalysisTrigger{
		analyzer:    opts.Analyzer,
		activityLog: opts.ActivityLog,
		logger:      opts.Logger,
	}
}

// OnPhotosAdded analyzes each photo and records a success or failure
// activity entry per photo.
func (t *PhotoAnalysisTrigger) OnPhotosAdded(ctx context.Context, step *ExecutionStep, photos []*Photo, config *PhotoAnalysisConfig, organizationID, actorID string) {
	for _, photo := range photos {
		result, err := t.analyzer.AnalyzePhoto(ctx, photo, config)
		entry := newActivityLogEntry(ActivityKindPhotoAnalysis)
		entry.OrganizationID = organizationID
		entry.WorkItemID = step.WorkItemID
		entry.ExecutionID = step.ExecutionID
		entry.StepID = step.ID
		switch {
		case err != nil:
			entry.Kind = ActivityKindPhotoAnalysisFailed
			entry.Message = err.Error()
			t.logger.Warn("photo analysis failed",
				"step_id", step.ID, "photo_url", photo.URL, "error", err)
		case !result.Success:
			entry.Kind = ActivityKindPhotoAnalysisFailed
			entry.Details = map[string]any{"errors": result.Errors}
			t.logger.Warn("photo analysis unsuccessful",
				"step_id", step.ID, "photo_url", photo.URL)
		default:
			entry.Details = map[string]any{
				"extracted_fields": len(result.ExtractedData),
				"confidence":       result.Confidence,
			}
			if actorID != "" {
				entry.Details["actor_id"] = actorID
			}
			t.logger.Info("photo analysis completed",
				"step_id", step.ID,
				"photo_url", photo.URL,
				"confidence", result.Confidence)
		}
		if err := t.activityLog.LogActivity(ctx, entry); err != nil {
			t.logger.Warn("failed to record photo analysis activity", "error", err)
		}
	}
}
