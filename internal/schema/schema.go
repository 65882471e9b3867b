// Package schema holds the JSON-schema documents describing each stream and
// the fixed metadata columns every record carries.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Metadata column names attached to every record.
const (
	SourceFileColumn   = "_sdc_source_file"
	SourceLinenoColumn = "_sdc_source_lineno"
	ExtraColumn        = "_sdc_extra"
)

// JSON-schema type names.
const (
	TypeNull    = "null"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeArray   = "array"
	TypeObject  = "object"

	FormatDateTime = "date-time"
)

// Property is the subset of JSON schema used for a column.
type Property struct {
	Type   []string    `json:"type,omitempty"`
	Format string      `json:"format,omitempty"`
	AnyOf  []*Property `json:"anyOf,omitempty"`
	Items  *Property   `json:"items,omitempty"`
}

// UnmarshalJSON accepts "type" as either a single name or a list of names.
func (p *Property) UnmarshalJSON(data []byte) error {
	type plain Property
	aux := struct {
		Type json.RawMessage `json:"type,omitempty"`
		*plain
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.Type)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		p.Type = nil
	case raw[0] == '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return err
		}
		p.Type = []string{name}
	default:
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return fmt.Errorf("property type must be a string or an array of strings: %w", err)
		}
		p.Type = names
	}
	return nil
}

// Schema is the object schema of one stream.
type Schema struct {
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties"`
}

// HasType reports whether t is one of the property's declared types.
func (p *Property) HasType(t string) bool {
	if p == nil {
		return false
	}
	for _, v := range p.Type {
		if v == t {
			return true
		}
	}
	return false
}

// MetadataProperties returns fresh definitions of the three metadata columns.
func MetadataProperties() map[string]*Property {
	return map[string]*Property{
		SourceFileColumn:   {Type: []string{TypeString}},
		SourceLinenoColumn: {Type: []string{TypeInteger}},
		ExtraColumn:        {Type: []string{TypeArray}, Items: &Property{Type: []string{TypeString}}},
	}
}

// IsMetadataColumn reports whether name is one of the reserved metadata columns.
func IsMetadataColumn(name string) bool {
	switch name {
	case SourceFileColumn, SourceLinenoColumn, ExtraColumn:
		return true
	}
	return false
}

// MergeMetadata combines the inferred data columns with the metadata columns.
// A data column that uses a reserved name is replaced by the metadata
// definition; the replaced names are returned sorted so callers can warn.
func MergeMetadata(data map[string]*Property) (*Schema, []string) {
	props := make(map[string]*Property, len(data)+3)
	for name, p := range data {
		props[name] = p
	}

	var collisions []string
	for name, p := range MetadataProperties() {
		if _, ok := props[name]; ok {
			collisions = append(collisions, name)
		}
		props[name] = p
	}
	sort.Strings(collisions)

	return &Schema{Type: TypeObject, Properties: props}, collisions
}

// Columns returns the property names in sorted order.
func (s *Schema) Columns() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
