// Package sampling infers a table's schema by reading a bounded sample of
// its most recent files.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/johndauphine/sftp-csv-tap/internal/config"
	"github.com/johndauphine/sftp-csv-tap/internal/conversion"
	"github.com/johndauphine/sftp-csv-tap/internal/csvfile"
	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/metrics"
	"github.com/johndauphine/sftp-csv-tap/internal/schema"
	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

// Options bound how much data is read.
type Options struct {
	SampleRate int // keep every Nth row
	MaxRecords int // per file
	MaxFiles   int
}

// OptionsFromConfig reads the sampling caps from the tap config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SampleRate: cfg.SampleRate,
		MaxRecords: cfg.MaxSamplingRead,
		MaxFiles:   cfg.MaxSampledFiles,
	}
}

func (o Options) withDefaults() Options {
	if o.SampleRate < 1 {
		o.SampleRate = config.DefaultSampleRate
	}
	if o.MaxRecords < 1 {
		o.MaxRecords = config.DefaultMaxSamplingRead
	}
	if o.MaxFiles < 1 {
		o.MaxFiles = config.DefaultMaxSampledFiles
	}
	return o
}

// MissingHeadersError means a sampled file lacks a column named in the
// table's key_properties or date_overrides.
type MissingHeadersError struct {
	Table   string
	File    string
	Option  string // "key_properties" or "date_overrides"
	Missing []string
	Headers []string
}

func (e *MissingHeadersError) Error() string {
	what := "required"
	if e.Option == "date_overrides" {
		what = "date_overrides"
	}
	return fmt.Sprintf("table '%s': CSV file %s missing %s headers: [%s], file only contains headers for fields: [%s]",
		e.Table, e.File, what, strings.Join(e.Missing, ", "), strings.Join(e.Headers, ", "))
}

// Sampler builds table schemas from files reachable through a transport.
type Sampler struct {
	transport transport.Transport
	opts      Options
}

func New(t transport.Transport, opts Options) *Sampler {
	return &Sampler{transport: t, opts: opts.withDefaults()}
}

// SampleSchema returns the inferred schema for a table, or nil when the
// table has no files yet.
func (s *Sampler) SampleSchema(ctx context.Context, spec config.TableSpec) (*schema.Schema, error) {
	logging.Info("Sampling records to determine table schema \"%s\".", spec.TableName)

	files, err := s.transport.ListFiles(ctx, spec.SearchPrefix, spec.SearchPattern)
	if err != nil {
		return nil, fmt.Errorf("table '%s': listing files: %w", spec.TableName, err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	samples, err := s.sampleFiles(ctx, spec, files)
	if err != nil {
		return nil, err
	}

	data := conversion.GenerateSchema(samples, spec.DateOverrides)
	sch, collisions := schema.MergeMetadata(data)
	for _, name := range collisions {
		logging.Warn("Table %s: data column %s uses a reserved metadata name; its inferred type is replaced by the metadata definition", spec.TableName, name)
	}
	return sch, nil
}

// sampleFiles reads the most recently modified files first. Samples from
// empty files are only used when no file had any data rows.
func (s *Sampler) sampleFiles(ctx context.Context, spec config.TableSpec, files []transport.File) ([]map[string]*string, error) {
	sorted := make([]transport.File, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].LastModified.Equal(sorted[j].LastModified) {
			return sorted[i].LastModified.After(sorted[j].LastModified)
		}
		return sorted[i].Path < sorted[j].Path
	})

	var samples, emptySamples []map[string]*string
	filesSoFar := 0
	for _, f := range sorted {
		if filesSoFar >= s.opts.MaxFiles {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		skip, err := s.transport.ShouldSkipCompressed(ctx, f)
		if err != nil {
			return nil, err
		}
		if skip {
			metrics.FileSkipped(spec.TableName, "invalid_compressed")
			continue
		}

		empty, rows, err := s.sampleFile(ctx, spec, f)
		if err != nil {
			return nil, err
		}
		if empty {
			emptySamples = append(emptySamples, rows...)
		} else {
			samples = append(samples, rows...)
		}
		filesSoFar++
	}

	if len(samples) == 0 {
		return emptySamples, nil
	}
	return samples, nil
}

func (s *Sampler) sampleFile(ctx context.Context, spec config.TableSpec, f transport.File) (bool, []map[string]*string, error) {
	plural := ""
	if s.opts.SampleRate != 1 {
		plural = "s"
	}
	logging.Info("Sampling %s (%d records, every %d record%s).", f.Path, s.opts.MaxRecords, s.opts.SampleRate, plural)

	raw, err := s.transport.Open(ctx, f)
	if err != nil {
		return false, nil, err
	}
	rc, err := csvfile.Decompress(raw, f.Path)
	if err != nil {
		return false, nil, err
	}
	defer rc.Close()

	reader, err := csvfile.NewReader(rc, csvfile.Options{Delimiter: spec.DelimiterRune(), Encoding: spec.Encoding})
	if err != nil {
		return false, nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	header := reader.Header()
	if header == nil {
		logging.Debug("%s has no header row", f.Path)
		return true, nil, nil
	}
	if err := validateHeaders(spec, f.Path, header); err != nil {
		return false, nil, err
	}

	var samples []map[string]*string
	for current := 0; len(samples) < s.opts.MaxRecords; current++ {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		if current%s.opts.SampleRate == 0 {
			samples = append(samples, rec.Values)
		}
	}
	logging.Info("Sampled %d records.", len(samples))
	metrics.RowsSampled(spec.TableName, len(samples))

	if len(samples) == 0 {
		row := make(map[string]*string, len(header))
		for _, name := range header {
			row[name] = nil
		}
		return true, []map[string]*string{row}, nil
	}
	return false, samples, nil
}

func validateHeaders(spec config.TableSpec, file string, header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	check := func(option string, cols []string) error {
		var missing []string
		for _, c := range cols {
			if !present[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		return &MissingHeadersError{
			Table:   spec.TableName,
			File:    file,
			Option:  option,
			Missing: missing,
			Headers: append([]string(nil), header...),
		}
	}
	if err := check("key_properties", spec.KeyProperties); err != nil {
		return err
	}
	return check("date_overrides", spec.DateOverrides)
}
