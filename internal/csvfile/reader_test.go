package csvfile

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func readAll(t *testing.T, r *Reader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestReaderExtraFields(t *testing.T) {
	data := "a,b,c\n1,2,3,4,5\n"
	r, err := NewReader(strings.NewReader(data), Options{Delimiter: ','})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	recs := readAll(t, r)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if !reflect.DeepEqual(recs[0].Extra, []string{"4", "5"}) {
		t.Errorf("Extra = %v, want [4 5]", recs[0].Extra)
	}
	if got := *recs[0].Values["c"]; got != "3" {
		t.Errorf("c = %q, want 3", got)
	}
}

func TestReaderShortRowAndLineNumbers(t *testing.T) {
	data := "id,name,note\n1,alice\n\n2,bob,\"multi\nline\"\n3,carol,x\n"
	r, err := NewReader(strings.NewReader(data), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	recs := readAll(t, r)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Values["note"] != nil {
		t.Errorf("short row note = %v, want nil", *recs[0].Values["note"])
	}
	wantLines := []int{2, 4, 6}
	for i, rec := range recs {
		if rec.Line != wantLines[i] {
			t.Errorf("record %d Line = %d, want %d", i, rec.Line, wantLines[i])
		}
	}
	if got := *recs[1].Values["note"]; got != "multi\nline" {
		t.Errorf("quoted note = %q", got)
	}
}

func TestReaderDelimiterNulAndBOM(t *testing.T) {
	data := "\uFEFFid|na\x00me\n1|x\x00y\n"
	r, err := NewReader(strings.NewReader(data), Options{Delimiter: '|'})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !reflect.DeepEqual(r.Header(), []string{"id", "name"}) {
		t.Fatalf("Header = %q", r.Header())
	}
	recs := readAll(t, r)
	if got := *recs[0].Values["name"]; got != "xy" {
		t.Errorf("name = %q, want xy", got)
	}
}

func TestReaderEncoding(t *testing.T) {
	data := []byte("name\ncaf\xe9\n") // latin1 e-acute
	r, err := NewReader(bytes.NewReader(data), Options{Encoding: "latin1"})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	recs := readAll(t, r)
	if got := *recs[0].Values["name"]; got != "café" {
		t.Errorf("name = %q, want café", got)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	r, err := NewReader(strings.NewReader(""), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Header() != nil {
		t.Errorf("Header = %v, want nil", r.Header())
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next = %v, want EOF", err)
	}
}

func TestDecompress(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("a\n1\n"))
	zw.Close()

	rc, err := Decompress(io.NopCloser(&buf), "/in/data.CSV.GZ")
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "a\n1\n" {
		t.Errorf("content = %q", got)
	}

	plain := io.NopCloser(strings.NewReader("x"))
	rc2, err := Decompress(plain, "/in/data.csv")
	if err != nil || rc2 != plain {
		t.Errorf("plain file should pass through unchanged")
	}
}
