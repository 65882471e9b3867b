// Package exitcodes defines standard exit codes for tap-sftp runs so that
// schedulers (cron, Airflow, Kubernetes jobs) can tell a misconfigured
// table from a flaky server.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"
)

const (
	// Success - discovery or sync completed without errors
	Success = 0

	// ConfigError - configuration parsing or a table whose files lack configured headers (don't retry)
	ConfigError = 1

	// ConnectionError - SFTP/S3/state database connection errors (recoverable)
	ConnectionError = 2

	// SyncError - reading or emitting data failed mid-run (watermark preserved)
	SyncError = 3

	// DiscoveryError - no configured table produced a schema
	DiscoveryError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - state or catalog file errors
	StateError = 6

	// IOError - local file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"permission denied",
		"is a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"missing required",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"no such host",
		"handshake",
		"unable to authenticate",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"state",
		"bookmark",
		"catalog",
	}) {
		return StateError
	}

	return SyncError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case SyncError:
		return "sync error"
	case DiscoveryError:
		return "discovery error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
