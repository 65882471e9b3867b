package orchestrator

import (
	"context"
	"time"
)

// HealthCheckResult reports whether the tap can reach its files and state.
type HealthCheckResult struct {
	Timestamp     string             `json:"timestamp"`
	Transport     string             `json:"transport"`
	Source        string             `json:"source"`
	Healthy       bool               `json:"healthy"`
	StateReadable bool               `json:"state_readable"`
	StateError    string             `json:"state_error,omitempty"`
	LatencyMs     int64              `json:"latency_ms"`
	Tables        []TableCheckResult `json:"tables"`
}

// TableCheckResult is the listing outcome for one configured table.
type TableCheckResult struct {
	Table     string `json:"table"`
	Files     int    `json:"files"`
	NewFiles  int    `json:"new_files"`
	Watermark string `json:"watermark,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck lists every table's files and reads its bookmark without
// opening any file. Listing failures are reported per table, not returned.
func (o *Orchestrator) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	result := &HealthCheckResult{
		Timestamp: time.Now().Format(time.RFC3339),
		Transport: o.config.Transport,
		Source:    o.sourceDescription(),
	}

	const checkTimeout = 30 * time.Second
	start := time.Now()

	if _, err := o.state.Snapshot(); err != nil {
		result.StateError = err.Error()
	} else {
		result.StateReadable = true
	}

	healthy := result.StateReadable
	for _, spec := range o.config.Tables {
		tr := TableCheckResult{Table: spec.TableName}

		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		files, err := o.transport.ListFiles(checkCtx, spec.SearchPrefix, spec.SearchPattern)
		cancel()
		if err != nil {
			tr.Error = err.Error()
			healthy = false
			result.Tables = append(result.Tables, tr)
			continue
		}
		tr.Files = len(files)

		if wm, ok, err := o.state.Bookmark(spec.TableName); err == nil {
			if ok {
				tr.Watermark = wm.UTC().Format(time.RFC3339Nano)
			}
			for _, f := range files {
				if f.LastModified.After(wm) {
					tr.NewFiles++
				}
			}
		}
		result.Tables = append(result.Tables, tr)
	}

	result.LatencyMs = time.Since(start).Milliseconds()
	result.Healthy = healthy
	return result, nil
}
