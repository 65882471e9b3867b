package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/catalog"
	"github.com/johndauphine/sftp-csv-tap/internal/checkpoint"
	"github.com/johndauphine/sftp-csv-tap/internal/config"
	"github.com/johndauphine/sftp-csv-tap/internal/exitcodes"
	"github.com/johndauphine/sftp-csv-tap/internal/transport/memfs"
)

var (
	t1 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

type testEnv struct {
	cfg   *config.Config
	fs    *memfs.FS
	state *checkpoint.FileState
	buf   *bytes.Buffer
	orch  *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Transport: config.TransportLocal,
		Tables: []config.TableSpec{
			{TableName: "orders", SearchPrefix: "/in", SearchPattern: `orders.*\.csv`, Delimiter: ",", KeyProperties: []string{"id"}},
			{TableName: "users", SearchPrefix: "/in", SearchPattern: `users.*\.csv`, Delimiter: ",", KeyProperties: []string{"id"}},
		},
	}
	fs := memfs.New()
	fs.Put("/in/orders_1.csv", []byte("id,total\n1,9.5\n2,3\n"), t1)
	fs.Put("/in/orders_2.csv", []byte("id,total\n3,1\n"), t2)
	fs.Put("/in/users.csv", []byte("id,name\n1,ann\n"), t1)

	state, err := checkpoint.NewFileState(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}
	buf := &bytes.Buffer{}
	orch := NewWithDeps(cfg, fs, state, Options{RunID: "test-run", Progress: ProgressNone, Output: buf})
	return &testEnv{cfg: cfg, fs: fs, state: state, buf: buf, orch: orch}
}

type line struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
}

func (e *testEnv) lines(t *testing.T) []line {
	t.Helper()
	var out []line
	for _, l := range strings.Split(strings.TrimSpace(e.buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m line
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("bad output line %q: %v", l, err)
		}
		out = append(out, m)
	}
	e.buf.Reset()
	return out
}

func summarize(lines []line) string {
	var parts []string
	for _, l := range lines {
		if l.Stream != "" {
			parts = append(parts, l.Type+":"+l.Stream)
		} else {
			parts = append(parts, l.Type)
		}
	}
	return strings.Join(parts, " ")
}

func TestDiscoverThenSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cat, err := env.orch.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cat.Streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(cat.Streams))
	}
	cat.Stream("orders").SetSelected(true)

	if err := env.orch.Sync(ctx, cat); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	want := "STATE SCHEMA:orders RECORD:orders RECORD:orders STATE RECORD:orders STATE STATE"
	if got := summarize(env.lines(t)); got != want {
		t.Errorf("messages:\n got %s\nwant %s", got, want)
	}

	res := env.orch.LastResult()
	if res.Status != "success" || res.RecordsEmitted != 3 || res.StreamsSynced != 1 || res.FilesSynced != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.Streams[0].Watermark != t2.Format(time.RFC3339Nano) {
		t.Errorf("watermark = %q", res.Streams[0].Watermark)
	}

	snap, err := env.orch.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got := snap.Bookmarks["orders"].LastModified; !got.Equal(t2) {
		t.Errorf("orders bookmark = %v, want %v", got, t2)
	}
	if _, ok := snap.Bookmarks["users"]; ok {
		t.Error("unselected stream should have no bookmark")
	}

	// rerun without new files
	if err := env.orch.Sync(ctx, cat); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if got := summarize(env.lines(t)); got != "STATE SCHEMA:orders STATE" {
		t.Errorf("rerun messages = %s", got)
	}
	if env.orch.LastResult().RecordsEmitted != 0 {
		t.Errorf("rerun emitted %d records", env.orch.LastResult().RecordsEmitted)
	}
}

func TestSyncUnconfiguredStream(t *testing.T) {
	env := newTestEnv(t)
	cat, err := env.orch.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	ghost := catalog.NewStream("ghost", cat.Streams[0].Schema, nil)
	ghost.SetSelected(true)
	cat.Streams = append([]*catalog.Stream{ghost}, cat.Streams...)

	err = env.orch.Sync(context.Background(), cat)
	var exitErr *exitcodes.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitcodes.ConfigError {
		t.Fatalf("err = %v, want config error", err)
	}
	if res := env.orch.LastResult(); res.Status != "failed" || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestSyncCancelled(t *testing.T) {
	env := newTestEnv(t)
	cat, err := env.orch.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	cat.SelectAll()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = env.orch.Sync(ctx, cat)
	if exitcodes.FromError(err) != exitcodes.Cancelled {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if _, ok, _ := env.state.Bookmark("orders"); ok {
		t.Error("cancelled run should not advance the watermark")
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	if err := env.state.SetBookmark("orders", t1); err != nil {
		t.Fatalf("SetBookmark: %v", err)
	}

	res, err := env.orch.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !res.Healthy || !res.StateReadable {
		t.Errorf("result = %+v", res)
	}
	byTable := map[string]TableCheckResult{}
	for _, tr := range res.Tables {
		byTable[tr.Table] = tr
	}
	if got := byTable["orders"]; got.Files != 2 || got.NewFiles != 1 {
		t.Errorf("orders = %+v, want 2 files, 1 new", got)
	}
	if got := byTable["users"]; got.Files != 1 || got.NewFiles != 1 || got.Watermark != "" {
		t.Errorf("users = %+v", got)
	}
}

func TestCloseReleasesTransport(t *testing.T) {
	env := newTestEnv(t)
	if err := env.orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !env.fs.Closed() {
		t.Error("transport not closed")
	}
}

func TestSyncResultJSON(t *testing.T) {
	result := SyncResult{
		RunID:          "run-1",
		Status:         "failed",
		StartedAt:      t1,
		RecordsEmitted: 10,
		Streams:        []StreamResult{{Name: "orders", Status: "failed", Records: 10}},
		Error:          "connection refused",
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if parsed["error"] != "connection refused" || parsed["records_emitted"] != float64(10) {
		t.Errorf("parsed = %v", parsed)
	}
}
