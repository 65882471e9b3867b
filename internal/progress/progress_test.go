package progress

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

func TestJSONReporterThrottlesFileUpdates(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, time.Minute)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.StartTable("orders", 3)
	r.FileDone("orders", "/a.csv", 10) // throttled: same instant as table start
	clock = clock.Add(2 * time.Minute)
	r.FileDone("orders", "/b.csv", 5)
	r.Finish()
	r.FileDone("orders", "/c.csv", 1) // after close

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}

	var last Update
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if last.Event != "finished" || last.FilesComplete != 2 || last.FilesTotal != 3 || last.RecordsEmitted != 15 {
		t.Errorf("final update = %+v", last)
	}

	var mid Update
	json.Unmarshal([]byte(lines[1]), &mid)
	if mid.File != "/b.csv" {
		t.Errorf("file update = %+v", mid)
	}
}

func TestTrackerCountsRecords(t *testing.T) {
	tr := New(io.Discard)
	tr.StartTable("orders", 2)
	tr.FileDone("orders", "/a.csv", 10)
	tr.FileDone("orders", "/b.csv", 5)
	tr.Finish()
	if tr.Records() != 15 {
		t.Errorf("Records = %d, want 15", tr.Records())
	}
}
