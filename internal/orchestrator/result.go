package orchestrator

import (
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/notify"
	"github.com/johndauphine/sftp-csv-tap/internal/syncer"
)

// SyncResult is the machine-readable outcome of a sync run (--output-file).
type SyncResult struct {
	RunID           string         `json:"run_id"`
	Status          string         `json:"status"` // running, success, failed
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	StreamsTotal    int            `json:"streams_total"`
	StreamsSynced   int            `json:"streams_synced"`
	RecordsEmitted  int64          `json:"records_emitted"`
	FilesSynced     int            `json:"files_synced"`
	FilesSkipped    int            `json:"files_skipped"`
	Streams         []StreamResult `json:"streams,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// StreamResult is one stream's share of a SyncResult.
type StreamResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Records   int64  `json:"records"`
	Files     int    `json:"files"`
	Skipped   int    `json:"skipped"`
	Watermark string `json:"watermark,omitempty"`
}

func (r *SyncResult) add(name string, res syncer.Result, err error) {
	sr := StreamResult{
		Name:    name,
		Status:  "success",
		Records: res.Records,
		Files:   res.Files,
		Skipped: res.Skipped,
	}
	if !res.Watermark.IsZero() {
		sr.Watermark = res.Watermark.UTC().Format(time.RFC3339Nano)
	}
	if err != nil {
		sr.Status = "failed"
	} else {
		r.StreamsSynced++
	}
	r.Streams = append(r.Streams, sr)
	r.RecordsEmitted += res.Records
	r.FilesSynced += res.Files
	r.FilesSkipped += res.Skipped
}

func (r *SyncResult) finish(status string, err error) {
	r.Status = status
	r.CompletedAt = time.Now()
	r.DurationSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *SyncResult) summaries() []notify.StreamSummary {
	out := make([]notify.StreamSummary, 0, len(r.Streams))
	for _, s := range r.Streams {
		out = append(out, notify.StreamSummary{
			Stream:  s.Name,
			Records: s.Records,
			Files:   s.Files,
			Skipped: s.Skipped,
		})
	}
	return out
}
