// Package checkpoint persists each table's replication watermark between runs.
package checkpoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/config"
)

// Backend stores one watermark per table. A run is the only writer.
type Backend interface {
	// Bookmark returns the stored watermark for a table; ok is false when the
	// table has never completed a file.
	Bookmark(table string) (ts time.Time, ok bool, err error)
	// SetBookmark persists a new watermark. It fails with ErrBookmarkRegression
	// if ts is earlier than the stored value.
	SetBookmark(table string, ts time.Time) error
	// Snapshot returns every stored watermark.
	Snapshot() (State, error)
	Close() error
}

// ErrBookmarkRegression is returned when a watermark would move backward.
var ErrBookmarkRegression = errors.New("bookmark would move backward")

// State is the persisted layout:
// {"bookmarks": {"<table>": {"last_modified": "<RFC3339>"}}}
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks" yaml:"bookmarks"`
}

// Bookmark is one table's progress.
type Bookmark struct {
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// NewState returns an empty state.
func NewState() State {
	return State{Bookmarks: make(map[string]Bookmark)}
}

// checkMonotonic compares a proposed watermark against the current one.
func checkMonotonic(table string, current time.Time, hasCurrent bool, next time.Time) error {
	if hasCurrent && next.Before(current) {
		return fmt.Errorf("table '%s': %w (stored %s, new %s)", table, ErrBookmarkRegression,
			current.Format(time.RFC3339Nano), next.Format(time.RFC3339Nano))
	}
	return nil
}

// Open returns the backend selected in the config.
func Open(cfg config.StateConfig) (Backend, error) {
	switch cfg.Backend {
	case config.StateFile, "":
		return NewFileState(cfg.Path)
	case config.StateSQLite:
		return OpenSQLState(DialectSQLite, cfg.Path)
	case config.StatePostgres:
		return OpenSQLState(DialectPostgres, cfg.DSN)
	case config.StateMSSQL:
		return OpenSQLState(DialectMSSQL, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown state backend '%s'", cfg.Backend)
	}
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
