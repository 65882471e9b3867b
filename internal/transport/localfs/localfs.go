// Package localfs reads tap input files from a mounted directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

// Transport lists files below a root directory.
type Transport struct {
	root string
}

var _ transport.Transport = (*Transport)(nil)

// New returns a transport rooted at dir.
func New(dir string) *Transport {
	return &Transport{root: dir}
}

func (t *Transport) ListFiles(ctx context.Context, prefix, pattern string) ([]transport.File, error) {
	dir := filepath.FromSlash(transport.JoinPrefix(filepath.ToSlash(t.root), prefix))

	var files []transport.File
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				logging.Warn("Search directory %s does not exist", dir)
				return filepath.SkipAll
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, transport.File{
			Path:         filepath.ToSlash(p),
			LastModified: info.ModTime().UTC(),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	return transport.Filter(files, pattern)
}

func (t *Transport) Open(ctx context.Context, f transport.File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(filepath.FromSlash(f.Path))
}

func (t *Transport) ShouldSkipCompressed(ctx context.Context, f transport.File) (bool, error) {
	return transport.CheckCompressed(ctx, f, func(ctx context.Context) (io.ReadCloser, error) {
		return t.Open(ctx, f)
	})
}

func (t *Transport) Close() error { return nil }
