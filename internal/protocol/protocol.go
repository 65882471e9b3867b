// Package protocol writes the tap's output stream: one JSON message per line.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/schema"
)

// Message types
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// SchemaMessage announces a stream's schema before its records.
type SchemaMessage struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Schema        *schema.Schema `json:"schema"`
	KeyProperties []string       `json:"key_properties"`
}

// RecordMessage carries one row.
type RecordMessage struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Record        map[string]any `json:"record"`
	TimeExtracted string         `json:"time_extracted,omitempty"`
}

// StateMessage carries a checkpoint the target should persist.
type StateMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Writer serializes messages. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
	now func() time.Time
}

func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{w: bw, enc: json.NewEncoder(bw), now: time.Now}
}

func (w *Writer) write(msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("writing %T: %w", msg, err)
	}
	return nil
}

// WriteSchema emits a SCHEMA message.
func (w *Writer) WriteSchema(stream string, sch *schema.Schema, keyProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.write(SchemaMessage{Type: TypeSchema, Stream: stream, Schema: sch, KeyProperties: keyProperties})
}

// WriteRecord emits a RECORD message stamped with the extraction time.
func (w *Writer) WriteRecord(stream string, record map[string]any) error {
	return w.write(RecordMessage{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: w.now().UTC().Format(time.RFC3339Nano),
	})
}

// WriteState emits a STATE message and flushes, so a target never sees a
// state before the records it covers.
func (w *Writer) WriteState(value any) error {
	if err := w.write(StateMessage{Type: TypeState, Value: value}); err != nil {
		return err
	}
	return w.Flush()
}

// Flush writes buffered messages to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}
