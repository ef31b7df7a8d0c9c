// Package sqlite provides SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/treonstudio/chatuploads/internal/repository"
)

const (
	maxBusyRetries = 5
	baseBusyDelay  = 50 * time.Millisecond
)

// withBusyRetry runs fn, retrying with exponential backoff while SQLite reports busy/locked.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if !isSQLiteBusyError(err) {
			return err
		}

		if attempt < maxBusyRetries-1 {
			delay := baseBusyDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", repository.ErrDatabaseLocked, maxBusyRetries, lastErr)
}

// isSQLiteBusyError checks if an error is an SQLITE_BUSY or SQLITE_LOCKED error.
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "sqlite_busy") ||
		strings.Contains(errStr, "sqlite_locked") ||
		strings.Contains(errStr, "(5)") || // SQLITE_BUSY
		strings.Contains(errStr, "(6)") || // SQLITE_LOCKED
		strings.Contains(errStr, "(517)") || // SQLITE_BUSY_SNAPSHOT
		strings.Contains(errStr, "(262)") // SQLITE_BUSY_RECOVERY
}

// validateKey rejects keys the queue never produces.
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: queue key cannot be empty", repository.ErrInvalidInput)
	}
	if len(key) > 255 {
		return fmt.Errorf("%w: queue key too long", repository.ErrInvalidInput)
	}
	return nil
}
