// Package apperr defines the error taxonomy shared by every layer of the
// lexibase service.
//
// Errors fall into two groups: sentinel values for conditions that carry no
// payload (e.g. [ErrNotFound]) and typed errors for conditions that do
// (e.g. [VersionConflictError]). Callers classify errors with errors.Is and
// errors.As; the HTTP layer maps each kind to a status code and a structured
// response body.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for payload-free conditions.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller did not authenticate.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller authenticated but lacks permission.
	ErrForbidden = errors.New("forbidden")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrNetworkFailure indicates a transport-level failure reaching an
	// upstream service.
	ErrNetworkFailure = errors.New("network failure")

	// ErrEmptyResponse indicates an upstream returned a syntactically valid
	// but empty response where content was required.
	ErrEmptyResponse = errors.New("empty response")

	// ErrBudgetExceeded indicates a token or cost budget was exhausted.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrCancelled indicates the operation was cancelled by the caller. It is
	// a control signal, never logged above info.
	ErrCancelled = errors.New("cancelled")

	// ErrAllProvidersFailed indicates every dictionary provider errored for a
	// word with at least one failure that was not a plain not-found.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// ValidationError reports a single invalid input field.
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// VersionConflictError reports an optimistic-concurrency failure: the stored
// entity version did not match the version the writer expected.
type VersionConflictError struct {
	Entity   string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, actual %d", e.Entity, e.Expected, e.Actual)
}

// ConflictError reports a state conflict other than a version mismatch
// (e.g. a duplicate unique key).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }

// RateLimitedError reports that a rate or token limit denied admission.
// RetryAfter is a hint; zero means no hint is available.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited; retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// ServiceUnavailableError reports that a named dependency is unavailable.
type ServiceUnavailableError struct {
	Service string
}

func (e *ServiceUnavailableError) Error() string {
	return "service unavailable: " + e.Service
}

// UpstreamError reports a failure inside a named upstream service that is
// not a plain network failure (e.g. a 5xx with a body).
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// SchemaValidationError reports that an LLM structured response did not
// conform to the caller-supplied JSON schema. It is never retried: a schema
// mismatch indicates a contract bug, not a transient fault.
type SchemaValidationError struct {
	Details string
}

func (e *SchemaValidationError) Error() string {
	return "schema validation failed: " + e.Details
}

// InternalError wraps an unexpected failure whose cause should not be
// surfaced to clients verbatim.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string { return fmt.Sprintf("internal: %v", e.Cause) }

func (e *InternalError) Unwrap() error { return e.Cause }

// IsTransient reports whether err represents a fault worth retrying:
// network failures, timeouts, and rate limits without a retry-after hint.
// Schema validation failures and validation errors are never transient.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetworkFailure) || errors.Is(err, ErrTimeout) {
		return true
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter == 0
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		// Upstream faults default to retryable; only a provably permanent
		// inner error (schema or input validation) opts out.
		var schema *SchemaValidationError
		var val *ValidationError
		if errors.As(up.Err, &schema) || errors.As(up.Err, &val) {
			return false
		}
		return true
	}
	return false
}
