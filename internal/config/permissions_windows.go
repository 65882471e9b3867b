//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Principals whose presence in an ACL means a file is shared.
var sharedPrincipals = []string{"everyone", "authenticated users", "builtin\\users"}

// checkFilePermissions warns when icacls shows a file holding secrets (what)
// granted to a shared principal.
func checkFilePermissions(path, what string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	out, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}

	acl := strings.ToLower(string(out))
	for _, p := range sharedPrincipals {
		if strings.Contains(acl, p) {
			return fmt.Sprintf(
				"WARNING: %s '%s' is readable by %s\n"+
					"         Run in PowerShell: icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
				what, path, p, path,
			)
		}
	}
	return ""
}
