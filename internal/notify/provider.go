package notify

import "time"

// Provider defines the notification contract for sync runs.
type Provider interface {
	// SyncStarted sends notification when a sync starts.
	SyncStarted(runID, source string, streamCount int) error

	// SyncCompleted sends notification when every selected stream synced.
	SyncCompleted(runID string, startTime time.Time, duration time.Duration, streams []StreamSummary) error

	// SyncFailed sends notification when a sync aborts. The watermark of the
	// failing stream stays at its last completed file.
	SyncFailed(runID, stream string, err error, duration time.Duration) error
}

// StreamSummary is one stream's line in a completion message.
type StreamSummary struct {
	Stream  string
	Records int64
	Files   int
	Skipped int
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
