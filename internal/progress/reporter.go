package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/logging"
)

// Update is one JSON progress line for automation (Airflow, cron wrappers).
type Update struct {
	Timestamp      string `json:"timestamp"`
	Event          string `json:"event"` // table_started, file_done, finished
	Table          string `json:"table,omitempty"`
	File           string `json:"file,omitempty"`
	FilesComplete  int    `json:"files_complete"`
	FilesTotal     int    `json:"files_total"`
	RecordsEmitted int64  `json:"records_emitted"`
}

// JSONReporter writes throttled JSON progress lines. Table starts and the
// final line are never throttled.
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool

	table   string
	done    int
	total   int
	records int64
	now     func() time.Time
}

// NewJSONReporter creates a new JSON progress reporter.
// interval specifies the minimum time between file updates.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		interval: interval,
		now:      time.Now,
	}
}

func (r *JSONReporter) StartTable(table string, files int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table, r.done, r.total = table, 0, files
	r.emit(Update{Event: "table_started", Table: table}, true)
}

func (r *JSONReporter) FileDone(table, path string, records int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.records += records
	r.emit(Update{Event: "file_done", Table: table, File: path}, false)
}

// Finish emits the final line and closes the reporter.
func (r *JSONReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(Update{Event: "finished"}, true)
	r.closed = true
}

func (r *JSONReporter) emit(u Update, immediate bool) {
	if r.closed {
		return
	}
	now := r.now()
	if !immediate && r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.lastReport = now

	u.Timestamp = now.Format(time.RFC3339)
	u.FilesComplete = r.done
	u.FilesTotal = r.total
	u.RecordsEmitted = r.records

	data, err := json.Marshal(u)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// NullReporter is a no-op sink for when progress reporting is disabled.
type NullReporter struct{}

func (NullReporter) StartTable(string, int) {}
func (NullReporter) FileDone(string, string, int64) {}
func (NullReporter) Finish() {}

var (
	_ Sink = (*Tracker)(nil)
	_ Sink = (*JSONReporter)(nil)
	_ Sink = NullReporter{}
)
