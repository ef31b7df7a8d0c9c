// Package repository defines the persistence boundary for the durable upload queue.
// Backend implementations (SQLite, PostgreSQL, in-memory) satisfy the same
// interfaces so the upload manager never depends on a specific database.
package repository

import "errors"

// Common errors returned by repository operations.
var (
	// ErrNotFound is returned when no state is stored under the requested key.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilDatabase is returned when a nil database connection is provided.
	ErrNilDatabase = errors.New("nil database connection")

	// ErrDatabaseLocked is returned when SQLite stays busy after all retries.
	ErrDatabaseLocked = errors.New("database is locked")
)

// DatabaseType identifies the backend behind a Repositories value.
type DatabaseType string

const (
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeMemory     DatabaseType = "memory"
)
