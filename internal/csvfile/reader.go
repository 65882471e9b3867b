// Package csvfile reads delimited text files as header-keyed records.
package csvfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/htmlindex"
)

// Options control how a file is parsed.
type Options struct {
	Delimiter rune
	// Encoding is a WHATWG label such as "latin1". Empty means UTF-8.
	Encoding string
}

// Record is one data row.
type Record struct {
	// Line is the 1-based line in the file where the row starts (the header is line 1).
	Line int
	// Values maps header names to cell text; nil when the row is short.
	Values map[string]*string
	// Extra holds cells beyond the header width, in order.
	Extra []string
}

// Reader yields records from a delimited file.
type Reader struct {
	csv    *csv.Reader
	header []string
}

// NewReader reads the header row and prepares to stream records. A file with
// no content at all yields a nil header and no records.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	if opts.Encoding != "" && !strings.EqualFold(opts.Encoding, "utf-8") && !strings.EqualFold(opts.Encoding, "utf8") {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", opts.Encoding, err)
		}
		r = enc.NewDecoder().Reader(r)
	}

	cr := csv.NewReader(&nulStripper{r: bufio.NewReader(r)})
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	reader := &Reader{csv: cr}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return reader, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	reader.header = header
	return reader, nil
}

// Header returns the column names from the first row.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next record or io.EOF.
func (r *Reader) Next() (Record, error) {
	if r.header == nil {
		return Record{}, io.EOF
	}
	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	line, _ := r.csv.FieldPos(0)

	rec := Record{Line: line, Values: make(map[string]*string, len(r.header))}
	for i, name := range r.header {
		if i < len(fields) {
			v := fields[i]
			rec.Values[name] = &v
		} else {
			rec.Values[name] = nil
		}
	}
	if len(fields) > len(r.header) {
		rec.Extra = append([]string(nil), fields[len(r.header):]...)
	}
	return rec, nil
}

// nulStripper drops NUL bytes, which some exporters pad files with.
type nulStripper struct {
	r io.Reader
}

func (n *nulStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		if c > 0 {
			out := p[:0]
			for _, b := range p[:c] {
				if b != 0 {
					out = append(out, b)
				}
			}
			if len(out) > 0 || err != nil {
				return len(out), err
			}
			continue
		}
		return 0, err
	}
}

// IsGzip reports whether a path names a gzip-compressed file.
func IsGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// Decompress wraps rc with a gzip reader when path ends in .gz. Closing the
// result closes rc.
func Decompress(rc io.ReadCloser, path string) (io.ReadCloser, error) {
	if !IsGzip(path) {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("open gzip %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: zr, under: rc}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.under.Close(); err == nil {
		err = cerr
	}
	return err
}
