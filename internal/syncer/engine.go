// Package syncer emits the records of one table's new files and advances its
// watermark file by file.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/catalog"
	"github.com/johndauphine/sftp-csv-tap/internal/checkpoint"
	"github.com/johndauphine/sftp-csv-tap/internal/config"
	"github.com/johndauphine/sftp-csv-tap/internal/conversion"
	"github.com/johndauphine/sftp-csv-tap/internal/csvfile"
	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/metrics"
	"github.com/johndauphine/sftp-csv-tap/internal/progress"
	"github.com/johndauphine/sftp-csv-tap/internal/protocol"
	"github.com/johndauphine/sftp-csv-tap/internal/schema"
	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

// Options tune the engine.
type Options struct {
	// CheckpointRows is how many records may be emitted within one file
	// before an interim STATE message is written. The watermark itself only
	// moves when a file completes.
	CheckpointRows int
}

// Result summarizes one table's sync.
type Result struct {
	Records   int64
	Files     int
	Skipped   int
	Watermark time.Time // zero when no file was processed
}

// Engine syncs tables one at a time over a shared transport.
type Engine struct {
	transport transport.Transport
	state     checkpoint.Backend
	out       *protocol.Writer
	progress  progress.Sink
	opts      Options
}

func New(t transport.Transport, state checkpoint.Backend, out *protocol.Writer, sink progress.Sink, opts Options) *Engine {
	if sink == nil {
		sink = progress.NullReporter{}
	}
	if opts.CheckpointRows <= 0 {
		opts.CheckpointRows = config.DefaultStateCheckpointRows
	}
	return &Engine{transport: t, state: state, out: out, progress: sink, opts: opts}
}

// SyncTable emits every row of every file modified after prior, oldest file
// first. After each file the records are flushed, the table's bookmark is set
// to that file's modification time, and a STATE message is written.
func (e *Engine) SyncTable(ctx context.Context, spec config.TableSpec, stream *catalog.Stream, prior time.Time) (Result, error) {
	start := time.Now()
	table := spec.TableName
	var res Result

	files, err := e.transport.ListFiles(ctx, spec.SearchPrefix, spec.SearchPattern)
	if err != nil {
		return res, fmt.Errorf("table '%s': listing files: %w", table, err)
	}
	candidates := filesModifiedAfter(files, prior)
	logging.Info("%s: %d of %d files modified after %s", table, len(candidates), len(files), formatWatermark(prior))
	e.progress.StartTable(table, len(candidates))

	plan := newRowPlan(spec, stream)
	for _, f := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		skip, err := e.transport.ShouldSkipCompressed(ctx, f)
		if err != nil {
			return res, err
		}
		var n int64
		if skip {
			metrics.FileSkipped(table, "invalid_compressed")
			res.Skipped++
		} else {
			n, err = e.syncFile(ctx, stream.TapStreamID, f, spec, plan)
			res.Records += n
			if err != nil {
				return res, err
			}
			metrics.FileSynced(table)
			res.Files++
		}

		// The file's records must reach the output before its watermark is saved.
		if err := e.out.Flush(); err != nil {
			return res, fmt.Errorf("table '%s': flushing records: %w", table, err)
		}
		if err := e.state.SetBookmark(table, f.LastModified); err != nil {
			return res, fmt.Errorf("table '%s': saving bookmark: %w", table, err)
		}
		res.Watermark = f.LastModified
		if err := e.writeState(); err != nil {
			return res, err
		}
		e.progress.FileDone(table, f.Path, n)
	}

	metrics.ObserveSyncDuration(table, time.Since(start))
	return res, nil
}

func (e *Engine) syncFile(ctx context.Context, streamID string, f transport.File, spec config.TableSpec, plan *rowPlan) (int64, error) {
	logging.Info("%s: Syncing file \"%s\".", streamID, f.Path)

	raw, err := e.transport.Open(ctx, f)
	if err != nil {
		return 0, err
	}
	rc, err := csvfile.Decompress(raw, f.Path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	reader, err := csvfile.NewReader(rc, csvfile.Options{Delimiter: spec.DelimiterRune(), Encoding: spec.Encoding})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.Path, err)
	}

	var count, sinceState int64
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("%s: %w", f.Path, err)
		}

		record := plan.build(spec.TableName, f.Path, rec)
		if err := e.out.WriteRecord(streamID, record); err != nil {
			return count, err
		}
		count++
		sinceState++

		if sinceState >= int64(e.opts.CheckpointRows) {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			if err := e.writeState(); err != nil {
				return count, err
			}
			sinceState = 0
		}
	}
	metrics.RecordsEmitted(spec.TableName, int(count))
	return count, nil
}

func (e *Engine) writeState() error {
	snap, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	return e.out.WriteState(snap)
}

// filesModifiedAfter keeps files strictly newer than the watermark, oldest
// first with ties broken by path.
func filesModifiedAfter(files []transport.File, watermark time.Time) []transport.File {
	var out []transport.File
	for _, f := range files {
		if f.LastModified.After(watermark) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return "the beginning"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// rowPlan holds the per-column conversion decided once per table.
type rowPlan struct {
	nodes     map[string]conversion.Node
	withExtra bool
	withFile  bool
	withLine  bool
}

func newRowPlan(spec config.TableSpec, stream *catalog.Stream) *rowPlan {
	selectedFields := make(map[string]bool, len(spec.SelectedFields))
	for _, f := range spec.SelectedFields {
		selectedFields[f] = true
	}
	for _, k := range stream.TableKeyProperties() {
		selectedFields[k] = true
	}
	overrides := make(map[string]bool, len(spec.DateOverrides))
	for _, c := range spec.DateOverrides {
		overrides[c] = true
	}

	p := &rowPlan{nodes: make(map[string]conversion.Node)}
	for name, prop := range stream.Schema.Properties {
		switch name {
		case schema.SourceFileColumn:
			p.withFile = true
			continue
		case schema.SourceLinenoColumn:
			p.withLine = true
			continue
		case schema.ExtraColumn:
			p.withExtra = true
			continue
		}
		if !stream.PropertySelected(name) {
			continue
		}
		if len(spec.SelectedFields) > 0 && !selectedFields[name] {
			continue
		}
		if overrides[name] {
			p.nodes[name] = conversion.DateTimeNode()
		} else {
			p.nodes[name] = conversion.NodeFromProperty(prop)
		}
	}
	return p
}

func (p *rowPlan) build(table, path string, rec csvfile.Record) map[string]any {
	record := make(map[string]any, len(p.nodes)+3)
	for col, raw := range rec.Values {
		node, ok := p.nodes[col]
		if !ok {
			continue
		}
		v, fellBack := conversion.Convert(node, raw)
		if fellBack {
			metrics.ConversionFallback(table)
		}
		record[col] = v
	}
	if p.withFile {
		record[schema.SourceFileColumn] = path
	}
	if p.withLine {
		record[schema.SourceLinenoColumn] = rec.Line
	}
	if p.withExtra && len(rec.Extra) > 0 {
		record[schema.ExtraColumn] = rec.Extra
	}
	return record
}
