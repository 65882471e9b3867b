package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/schema"
)

func TestWriterMessages(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	sch, _ := schema.MergeMetadata(map[string]*schema.Property{"id": {Type: []string{"integer"}}})
	if err := w.WriteSchema("orders", sch, []string{"id"}); err != nil {
		t.Fatalf("WriteSchema: %v", err)
	}
	if err := w.WriteRecord("orders", map[string]any{"id": int64(1), "_sdc_source_file": "/a.csv"}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("records should be buffered until a state or flush, got %q", buf.String())
	}
	if err := w.WriteState(map[string]any{"bookmarks": map[string]any{}}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}

	wantTypes := []string{TypeSchema, TypeRecord, TypeState}
	for i, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %d not JSON: %v", i, err)
		}
		if m["type"] != wantTypes[i] {
			t.Errorf("line %d type = %v, want %s", i, m["type"], wantTypes[i])
		}
	}

	if !strings.Contains(lines[1], `"time_extracted":"2024-01-01T00:00:00Z"`) {
		t.Errorf("record line = %s", lines[1])
	}
	if !strings.Contains(lines[0], `"key_properties":["id"]`) {
		t.Errorf("schema line = %s", lines[0])
	}
}

func TestWriteSchemaNilKeys(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteSchema("s", &schema.Schema{Type: "object"}, nil)
	w.Flush()
	if !strings.Contains(buf.String(), `"key_properties":[]`) {
		t.Errorf("got %s", buf.String())
	}
}
