//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions warns when a file holding secrets (what) is readable
// by group or others.
func checkFilePermissions(path, what string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	mode := info.Mode().Perm()
	if mode&0077 == 0 {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: %s '%s' is accessible by other users (%04o)\n"+
			"         Run: chmod 600 %s\n\n",
		what, path, mode, path,
	)
}
