//go:build unix

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFilePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode     os.FileMode
		wantWarn bool
	}{
		{0600, false},
		{0400, false},
		{0640, true},
		{0644, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, "id_rsa")
		if err := os.WriteFile(path, []byte("key"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		got := checkFilePermissions(path, "Private key")
		if (got != "") != tt.wantWarn {
			t.Errorf("mode %04o: warning = %q, want warning %v", tt.mode, got, tt.wantWarn)
		}
		if tt.wantWarn && !strings.Contains(got, "Private key") {
			t.Errorf("warning does not name the file kind: %q", got)
		}
	}

	if got := checkFilePermissions(filepath.Join(dir, "missing"), "Config file"); got != "" {
		t.Errorf("missing file: warning = %q", got)
	}
}
