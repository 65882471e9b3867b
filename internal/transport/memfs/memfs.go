// Package memfs is an in-memory transport for tests and dry runs.
package memfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

type entry struct {
	data    []byte
	modTime time.Time
	openErr error
}

// FS holds files keyed by absolute path.
type FS struct {
	mu     sync.Mutex
	files  map[string]entry
	opens  map[string]int
	closed bool
}

var _ transport.Transport = (*FS)(nil)

func New() *FS {
	return &FS{files: make(map[string]entry), opens: make(map[string]int)}
}

// Put adds or replaces a file.
func (m *FS) Put(path string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = entry{data: data, modTime: modTime.UTC()}
}

// PutError adds a file that fails to open with err.
func (m *FS) PutError(path string, modTime time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = entry{modTime: modTime.UTC(), openErr: err}
}

// Opens reports how many times path was opened.
func (m *FS) Opens(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[path]
}

// Closed reports whether Close was called.
func (m *FS) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *FS) ListFiles(ctx context.Context, prefix, pattern string) ([]transport.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := strings.TrimSuffix(transport.JoinPrefix("/", prefix), "/") + "/"

	m.mu.Lock()
	var files []transport.File
	for p, e := range m.files {
		if !strings.HasPrefix(p, dir) {
			continue
		}
		files = append(files, transport.File{Path: p, LastModified: e.modTime, Size: int64(len(e.data))})
	}
	m.mu.Unlock()

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return transport.Filter(files, pattern)
}

func (m *FS) Open(ctx context.Context, f transport.File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.files[f.Path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: f.Path, Err: os.ErrNotExist}
	}
	m.opens[f.Path]++
	if e.openErr != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, e.openErr)
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

func (m *FS) ShouldSkipCompressed(ctx context.Context, f transport.File) (bool, error) {
	return transport.CheckCompressed(ctx, f, func(ctx context.Context) (io.ReadCloser, error) {
		return m.Open(ctx, f)
	})
}

func (m *FS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
