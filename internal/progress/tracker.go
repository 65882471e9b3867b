// Package progress shows sync progress on stderr, either as a terminal bar
// or as JSON lines for schedulers.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/johndauphine/sftp-csv-tap/internal/logging"
)

// Sink receives sync progress events. The engine calls it from one
// goroutine.
type Sink interface {
	// StartTable announces a table and how many candidate files it has.
	StartTable(table string, files int)
	// FileDone reports one finished (or skipped) file and its record count.
	FileDone(table, path string, records int64)
	// Finish ends reporting for the run.
	Finish()
}

// Tracker draws a progress bar over files.
type Tracker struct {
	w         io.Writer
	bar       *progressbar.ProgressBar
	records   atomic.Int64
	files     atomic.Int64
	startTime time.Time
}

// New creates a tracker writing to w.
func New(w io.Writer) *Tracker {
	return &Tracker{w: w, startTime: time.Now()}
}

// StderrIsTerminal reports whether a bar on stderr would be seen by a person.
func StderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// StartTable resets the bar for a new table.
func (t *Tracker) StartTable(table string, files int) {
	if t.bar != nil {
		t.bar.Finish()
	}
	t.bar = progressbar.NewOptions(
		files,
		progressbar.OptionSetWriter(t.w),
		progressbar.OptionSetDescription(fmt.Sprintf("Syncing %s", table)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// FileDone advances the bar by one file.
func (t *Tracker) FileDone(table, path string, records int64) {
	t.files.Add(1)
	t.records.Add(records)
	if t.bar != nil {
		t.bar.Add(1)
	}
}

// Records returns the total reported so far.
func (t *Tracker) Records() int64 {
	return t.records.Load()
}

// Finish closes the bar and logs throughput.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Fprintln(t.w)
	}

	elapsed := time.Since(t.startTime)
	perSec := float64(t.records.Load()) / elapsed.Seconds()
	logging.Info("Sync complete: %d files, %d records in %s (%.0f records/sec)",
		t.files.Load(), t.records.Load(), elapsed.Round(time.Second), perSec)
}
