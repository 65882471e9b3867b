package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/johndauphine/sftp-csv-tap/internal/schema"
)

func testSchema() *schema.Schema {
	sch, _ := schema.MergeMetadata(map[string]*schema.Property{
		"id":   {Type: []string{"integer"}},
		"name": {Type: []string{"null", "string"}},
	})
	return sch
}

func TestNewStreamMetadata(t *testing.T) {
	s := NewStream("orders", testSchema(), []string{"id"})

	if s.IsSelected() {
		t.Error("new stream should not be selected")
	}
	if got := s.TableKeyProperties(); !reflect.DeepEqual(got, []string{"id"}) {
		t.Errorf("TableKeyProperties = %v", got)
	}
	// one stream entry plus one per column
	if len(s.Metadata) != 1+5 {
		t.Errorf("metadata entries = %d, want 6", len(s.Metadata))
	}
	if inc := s.entry("properties", "id")[KeyInclusion]; inc != InclusionAutomatic {
		t.Errorf("id inclusion = %v", inc)
	}
	if inc := s.entry("properties", "name")[KeyInclusion]; inc != InclusionAvailable {
		t.Errorf("name inclusion = %v", inc)
	}
}

func TestPropertySelection(t *testing.T) {
	s := NewStream("orders", testSchema(), []string{"id"})

	s.SetPropertySelected("name", false)
	s.SetPropertySelected("id", false)

	if s.PropertySelected("name") {
		t.Error("name should be deselected")
	}
	if !s.PropertySelected("id") {
		t.Error("automatic key column must stay selected")
	}
	if !s.PropertySelected("not_in_metadata") {
		t.Error("columns without metadata default to selected")
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	c := &Catalog{Streams: []*Stream{NewStream("orders", testSchema(), []string{"id"})}}
	c.SelectAll()

	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `"tap_stream_id": "orders"`) {
		t.Errorf("unexpected catalog JSON:\n%s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := got.Stream("orders")
	if s == nil {
		t.Fatal("stream orders missing")
	}
	if !s.IsSelected() {
		t.Error("selection lost in round trip")
	}
	if keys := s.TableKeyProperties(); !reflect.DeepEqual(keys, []string{"id"}) {
		t.Errorf("keys after decode = %v", keys)
	}
	if !s.Schema.Properties["id"].HasType("integer") {
		t.Errorf("schema lost: %+v", s.Schema.Properties["id"])
	}
}

func TestParseScalarPropertyType(t *testing.T) {
	in := `{"streams":[{"tap_stream_id":"orders","stream":"orders","schema":{"type":"object","properties":{
		"_sdc_source_file":{"type":"string"},
		"id":{"type":["null","integer"]},
		"tags":{"type":"array","items":{"type":"string"}},
		"created":{"anyOf":[{"type":"string","format":"date-time"},{"type":["null","string"]}]}
	}}}]}`

	c, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	props := c.Stream("orders").Schema.Properties
	if got := props["_sdc_source_file"].Type; !reflect.DeepEqual(got, []string{"string"}) {
		t.Errorf("_sdc_source_file type = %v", got)
	}
	if got := props["id"].Type; !reflect.DeepEqual(got, []string{"null", "integer"}) {
		t.Errorf("id type = %v", got)
	}
	if !props["tags"].HasType("array") || !props["tags"].Items.HasType("string") {
		t.Errorf("tags = %+v", props["tags"])
	}
	created := props["created"]
	if len(created.AnyOf) != 2 || !created.AnyOf[0].HasType("string") || created.AnyOf[0].Format != "date-time" {
		t.Errorf("created = %+v", created)
	}

	if _, err := Parse(strings.NewReader(`{"streams":[{"tap_stream_id":"x","stream":"x","schema":{"type":"object","properties":{"a":{"type":5}}}}]}`)); err == nil {
		t.Error("numeric type should be rejected")
	}
}

func TestParseRejectsIncompleteStreams(t *testing.T) {
	tests := []string{
		`{"streams":[{"stream":"x","schema":{"type":"object","properties":{}}}]}`,
		`{"streams":[{"tap_stream_id":"x"}]}`,
		`not json`,
	}
	for _, in := range tests {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("Parse(%s) should fail", in)
		}
	}
}
