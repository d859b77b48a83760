package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network failure", ErrNetworkFailure, true},
		{"wrapped network failure", fmt.Errorf("fetch: %w", ErrNetworkFailure), true},
		{"timeout", ErrTimeout, true},
		{"rate limited without hint", &RateLimitedError{}, true},
		{"rate limited with hint", &RateLimitedError{RetryAfter: time.Minute}, false},
		{"upstream fault", &UpstreamError{Service: "llm", Err: errors.New("500")}, true},
		{"upstream schema mismatch", &UpstreamError{Service: "llm", Err: &SchemaValidationError{Details: "missing field"}}, false},
		{"upstream validation", &UpstreamError{Service: "llm", Err: &ValidationError{Field: "x", Message: "bad"}}, false},
		{"not found", ErrNotFound, false},
		{"validation", &ValidationError{Field: "word", Message: "empty"}, false},
		{"schema validation", &SchemaValidationError{Details: "bad"}, false},
		{"cancelled", ErrCancelled, false},
		{"nil-ish plain error", errors.New("boom"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestTypedErrors_MatchWithAs(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("store: update word: %w",
		&VersionConflictError{Entity: "word", Expected: 3, Actual: 5})

	var vc *VersionConflictError
	if !errors.As(wrapped, &vc) {
		t.Fatal("errors.As failed to find VersionConflictError")
	}
	if vc.Expected != 3 || vc.Actual != 5 {
		t.Errorf("conflict = %+v, want expected 3 actual 5", vc)
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("provider: %w", &UpstreamError{Service: "wiktionary", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("UpstreamError should unwrap to its cause")
	}
}

func TestRateLimitedError_Message(t *testing.T) {
	t.Parallel()

	if got := (&RateLimitedError{}).Error(); got != "rate limited" {
		t.Errorf("Error() = %q", got)
	}
	withHint := (&RateLimitedError{RetryAfter: 30 * time.Second}).Error()
	if withHint == "rate limited" {
		t.Error("hint should appear in the message")
	}
}
