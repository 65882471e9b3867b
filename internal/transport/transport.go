// Package transport defines how the tap lists and reads remote files, and
// the checks shared by every backend.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/johndauphine/sftp-csv-tap/internal/csvfile"
	"github.com/johndauphine/sftp-csv-tap/internal/logging"
)

// File describes one remote file as listed.
type File struct {
	Path         string
	LastModified time.Time
	Size         int64
}

// Transport lists and opens files on a remote server. Implementations are
// not safe for concurrent use; one connection serves a whole run.
type Transport interface {
	// ListFiles returns every file under prefix whose path matches pattern.
	ListFiles(ctx context.Context, prefix, pattern string) ([]File, error)
	// Open streams the raw (possibly compressed) bytes of a file.
	Open(ctx context.Context, f File) (io.ReadCloser, error)
	// ShouldSkipCompressed reports whether a gzip file is empty, corrupt or
	// unreadable. It logs the reason and returns true for those cases; other
	// I/O errors are returned.
	ShouldSkipCompressed(ctx context.Context, f File) (bool, error)
	Close() error
}

// SkipReason says why a compressed file was skipped.
type SkipReason string

const (
	SkipEmpty            SkipReason = "empty"
	SkipNotGzip          SkipReason = "not_gzip"
	SkipPermissionDenied SkipReason = "permission_denied"
)

// SkipError is a recoverable per-file problem.
type SkipError struct {
	Path   string
	Reason SkipReason
}

func (e *SkipError) Error() string {
	switch e.Reason {
	case SkipEmpty:
		return fmt.Sprintf("Skipping %s file because it is empty.", e.Path)
	case SkipNotGzip:
		return fmt.Sprintf("Skipping %s file because it is not a gzipped file.", e.Path)
	case SkipPermissionDenied:
		return fmt.Sprintf("Skipping %s file because you do not have enough permissions.", e.Path)
	default:
		return fmt.Sprintf("Skipping %s file (%s).", e.Path, e.Reason)
	}
}

// Filter keeps the files whose path matches pattern anywhere.
func Filter(files []File, pattern string) ([]File, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile search pattern %q: %w", pattern, err)
	}
	var out []File
	for _, f := range files {
		if re.MatchString(f.Path) {
			out = append(out, f)
		}
	}
	return out, nil
}

// JoinPrefix resolves a table's search prefix against the transport root.
// An absolute prefix is used as is.
func JoinPrefix(root, prefix string) string {
	if strings.HasPrefix(prefix, "/") {
		return path.Clean(prefix)
	}
	if root == "" {
		if prefix == "" {
			return "."
		}
		return path.Clean(prefix)
	}
	return path.Join(root, prefix)
}

// OpenFunc opens the raw bytes of a file.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// ProbeGzip reads the first decompressed byte of a gzip file. It returns a
// SkipError for empty, non-gzip and permission-denied files, and any other
// error unchanged.
func ProbeGzip(ctx context.Context, filePath string, open OpenFunc) (*SkipError, error) {
	rc, err := open(ctx)
	if err != nil {
		if isPermission(err) {
			return &SkipError{Path: filePath, Reason: SkipPermissionDenied}, nil
		}
		return nil, err
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return classifyGzipErr(filePath, err)
	}
	defer zr.Close()

	buf := make([]byte, 1)
	n, err := io.ReadFull(zr, buf)
	if n > 0 {
		return nil, nil
	}
	return classifyGzipErr(filePath, err)
}

func classifyGzipErr(filePath string, err error) (*SkipError, error) {
	switch {
	case errors.Is(err, io.EOF):
		return &SkipError{Path: filePath, Reason: SkipEmpty}, nil
	case isPermission(err):
		return &SkipError{Path: filePath, Reason: SkipPermissionDenied}, nil
	case errors.Is(err, gzip.ErrHeader), errors.Is(err, gzip.ErrChecksum), errors.Is(err, io.ErrUnexpectedEOF):
		return &SkipError{Path: filePath, Reason: SkipNotGzip}, nil
	}
	return nil, err
}

func isPermission(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "permission denied")
}

// CheckCompressed implements Transport.ShouldSkipCompressed for any backend.
// Uncompressed files are never skipped.
func CheckCompressed(ctx context.Context, f File, open OpenFunc) (bool, error) {
	if !csvfile.IsGzip(f.Path) {
		return false, nil
	}
	skip, err := ProbeGzip(ctx, f.Path, open)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", f.Path, err)
	}
	if skip != nil {
		logging.Warn("%s", skip.Error())
		return true, nil
	}
	return false, nil
}
