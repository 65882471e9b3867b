package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState implements Backend using a single JSON file, or YAML when the
// path ends in .yaml or .yml. Every SetBookmark rewrites the file.
type FileState struct {
	path  string
	yaml  bool
	mu    sync.RWMutex
	state State
}

// NewFileState creates a file-based state store.
// If the file exists, it loads the existing bookmarks.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path:  path,
		yaml:  isYAMLPath(path),
		state: NewState(),
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if len(data) > 0 {
			if fs.yaml {
				err = yaml.Unmarshal(data, &fs.state)
			} else {
				err = json.Unmarshal(data, &fs.state)
			}
			if err != nil {
				return nil, fmt.Errorf("parsing state file: %w", err)
			}
		}
		if fs.state.Bookmarks == nil {
			fs.state.Bookmarks = make(map[string]Bookmark)
		}
	}

	return fs, nil
}

// save writes the state to a temp file and renames it into place so a crash
// never leaves a truncated state file.
func (fs *FileState) save() error {
	var (
		data []byte
		err  error
	)
	if fs.yaml {
		data, err = yaml.Marshal(fs.state)
	} else {
		data, err = json.MarshalIndent(fs.state, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

func (fs *FileState) Bookmark(table string) (time.Time, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	b, ok := fs.state.Bookmarks[table]
	return b.LastModified, ok, nil
}

func (fs *FileState) SetBookmark(table string, ts time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cur, ok := fs.state.Bookmarks[table]
	if err := checkMonotonic(table, cur.LastModified, ok, ts); err != nil {
		return err
	}
	fs.state.Bookmarks[table] = Bookmark{LastModified: ts.UTC()}
	return fs.save()
}

func (fs *FileState) Snapshot() (State, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := NewState()
	for k, v := range fs.state.Bookmarks {
		out.Bookmarks[k] = v
	}
	return out, nil
}

// Close is a no-op; every change is already on disk.
func (fs *FileState) Close() error {
	return nil
}
