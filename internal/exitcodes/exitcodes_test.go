package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, Success},
		{"path error", &os.PathError{Op: "open", Path: "/foo", Err: errors.New("no such file")}, IOError},
		{"yaml parse error", errors.New("parsing config: yaml: line 3: did not find expected key"), ConfigError},
		{"json parse error", errors.New("json: cannot unmarshal string"), ConfigError},
		{"connection refused", errors.New("ssh: dial tcp 10.0.0.1:22: connection refused"), ConnectionError},
		{"ssh auth", errors.New("ssh: handshake failed: unable to authenticate"), ConnectionError},
		{"context canceled", fmt.Errorf("sync table: %w", context.Canceled), Cancelled},
		{"state error", errors.New("writing state file: disk full"), StateError},
		{"catalog error", errors.New("reading catalog: unexpected EOF"), StateError},
		{"unknown error", errors.New("something unexpected happened"), SyncError},
		{"explicit code", NewExitError(errors.New("no streams found"), DiscoveryError), DiscoveryError},
		{"wrapped explicit code", fmt.Errorf("discover: %w", NewExitError(errors.New("missing"), ConfigError)), ConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got != tt.expected {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.expected, Description(tt.expected))
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner error")
	exitErr := NewExitError(inner, ConnectionError)

	if exitErr.Code != ConnectionError {
		t.Errorf("expected code %d, got %d", ConnectionError, exitErr.Code)
	}
	if exitErr.Error() != "inner error" {
		t.Errorf("expected error message 'inner error', got '%s'", exitErr.Error())
	}
	if errors.Unwrap(exitErr) != inner {
		t.Error("Unwrap should return inner error")
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ConnectionError, Cancelled, IOError}
	nonRecoverable := []int{Success, ConfigError, SyncError, DiscoveryError, StateError}

	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("expected code %d (%s) to be recoverable", code, Description(code))
		}
	}
	for _, code := range nonRecoverable {
		if IsRecoverable(code) {
			t.Errorf("expected code %d (%s) to be non-recoverable", code, Description(code))
		}
	}
}
