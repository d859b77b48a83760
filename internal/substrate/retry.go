package substrate

import (
	"context"
	"errors"
	"time"

	"github.com/lexibase/lexibase/internal/apperr"
)

const (
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
)

// withRetry runs fn up to maxAttempts times with exponential backoff between
// attempts. Only transient errors retry (network failures, timeouts,
// rate limiting without a retry-after hint); schema-validation failures and
// other permanent errors return immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBaseDelay

	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt >= maxAttempts {
			return err
		}

		var schemaErr *apperr.SchemaValidationError
		if errors.As(err, &schemaErr) {
			// Schema mismatch is deterministic; retrying wastes tokens.
			return err
		}
		if !apperr.IsTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
