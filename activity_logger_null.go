package workflow

import "context"

// NullActivityLogger discards engine activity entries. It is the default
// sink when no audit trail is configured.
type NullActivityLogger struct{}

func NewNullActivityLogger() *NullActivityLogger {
	return &NullActivityLogger{}
}

func (l *NullActivityLogger) LogActivity(ctx context.Context, entry *ActivityLogEntry) error {
	return nil
}

// GetActivityHistory reports an empty history for every execution.
func (l *NullActivityLogger) GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error) {
	return nil, nil
}
