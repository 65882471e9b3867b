// Package catalog describes the streams found by discovery and which of them
// a sync should emit.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/johndauphine/sftp-csv-tap/internal/schema"
)

// Metadata keys
const (
	KeySelected           = "selected"
	KeyInclusion          = "inclusion"
	KeyTableKeyProperties = "table-key-properties"

	InclusionAvailable = "available"
	InclusionAutomatic = "automatic"
)

// Catalog is the discovery output and sync input.
type Catalog struct {
	Streams []*Stream `json:"streams"`
}

// Stream is one table.
type Stream struct {
	TapStreamID   string         `json:"tap_stream_id"`
	Stream        string         `json:"stream"`
	Schema        *schema.Schema `json:"schema"`
	KeyProperties []string       `json:"key_properties"`
	Metadata      []Metadata     `json:"metadata"`
}

// Metadata attaches settings to the stream (empty breadcrumb) or to one of
// its properties (["properties", name]).
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// NewStream builds a stream entry with standard metadata. Key properties and
// metadata columns are always included; other columns are available for
// selection.
func NewStream(name string, sch *schema.Schema, keyProperties []string) *Stream {
	keys := append([]string{}, keyProperties...)
	s := &Stream{
		TapStreamID:   name,
		Stream:        name,
		Schema:        sch,
		KeyProperties: keys,
	}
	s.Metadata = append(s.Metadata, Metadata{
		Breadcrumb: []string{},
		Metadata: map[string]any{
			KeyTableKeyProperties: keys,
			KeyInclusion:          InclusionAvailable,
		},
	})

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	for _, col := range sch.Columns() {
		inclusion := InclusionAvailable
		if isKey[col] || schema.IsMetadataColumn(col) {
			inclusion = InclusionAutomatic
		}
		s.Metadata = append(s.Metadata, Metadata{
			Breadcrumb: []string{"properties", col},
			Metadata:   map[string]any{KeyInclusion: inclusion},
		})
	}
	return s
}

func (s *Stream) entry(breadcrumb ...string) map[string]any {
	for _, m := range s.Metadata {
		if equalBreadcrumb(m.Breadcrumb, breadcrumb) {
			return m.Metadata
		}
	}
	return nil
}

func (s *Stream) ensureEntry(breadcrumb ...string) map[string]any {
	if m := s.entry(breadcrumb...); m != nil {
		return m
	}
	m := map[string]any{}
	s.Metadata = append(s.Metadata, Metadata{Breadcrumb: append([]string{}, breadcrumb...), Metadata: m})
	return m
}

func equalBreadcrumb(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsSelected reports whether the stream-level metadata has selected: true.
func (s *Stream) IsSelected() bool {
	v, _ := s.entry()[KeySelected].(bool)
	return v
}

// SetSelected marks the stream for sync.
func (s *Stream) SetSelected(selected bool) {
	s.ensureEntry()[KeySelected] = selected
}

// TableKeyProperties returns the key properties from stream metadata,
// falling back to the key_properties field.
func (s *Stream) TableKeyProperties() []string {
	switch v := s.entry()[KeyTableKeyProperties].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, k := range v {
			if str, ok := k.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return s.KeyProperties
}

// PropertySelected reports whether a column should be emitted. Columns are
// emitted unless their metadata says selected: false, and automatic columns
// are always emitted.
func (s *Stream) PropertySelected(column string) bool {
	m := s.entry("properties", column)
	if m == nil {
		return true
	}
	if inc, _ := m[KeyInclusion].(string); inc == InclusionAutomatic {
		return true
	}
	if sel, ok := m[KeySelected].(bool); ok {
		return sel
	}
	return true
}

// SetPropertySelected sets the selection flag on a column.
func (s *Stream) SetPropertySelected(column string, selected bool) {
	s.ensureEntry("properties", column)[KeySelected] = selected
}

// Stream returns the stream with the given id, or nil.
func (c *Catalog) Stream(id string) *Stream {
	for _, s := range c.Streams {
		if s.TapStreamID == id {
			return s
		}
	}
	return nil
}

// SelectAll marks every stream selected.
func (c *Catalog) SelectAll() {
	for _, s := range c.Streams {
		s.SetSelected(true)
	}
}

// Sort orders streams by id.
func (c *Catalog) Sort() {
	sort.Slice(c.Streams, func(i, j int) bool { return c.Streams[i].TapStreamID < c.Streams[j].TapStreamID })
}

// Write encodes the catalog as indented JSON.
func (c *Catalog) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// Parse decodes a catalog.
func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i, s := range c.Streams {
		if s == nil || s.TapStreamID == "" {
			return nil, fmt.Errorf("parsing catalog: streams[%d] has no tap_stream_id", i)
		}
		if s.Schema == nil {
			return nil, fmt.Errorf("parsing catalog: stream '%s' has no schema", s.TapStreamID)
		}
	}
	return &c, nil
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
