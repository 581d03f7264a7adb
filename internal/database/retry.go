package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"forwardbot/internal/constants"
	"forwardbot/internal/retry"
)

var dbBackoff = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
	MaxDelay:     time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
})

// retryableDBOperation executes a write with retry on transient SQLite errors
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	err := dbBackoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, constants.DefaultDatabaseRetryAttempts, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database table is locked") {
		return true
	}

	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	return false
}
