package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/treonstudio/chatuploads/internal/repository"
)

// QueueStateRepository implements repository.QueueStateRepository for SQLite.
type QueueStateRepository struct {
	db *sql.DB
}

// NewQueueStateRepository creates a new SQLite queue state repository.
func NewQueueStateRepository(db *sql.DB) *QueueStateRepository {
	return &QueueStateRepository{db: db}
}

// Save upserts the document stored under key.
func (r *QueueStateRepository) Save(ctx context.Context, key string, state []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: state cannot be nil", repository.ErrInvalidInput)
	}
	if len(state) > repository.MaxQueueStateSize {
		return fmt.Errorf("%w: state exceeds %d bytes", repository.ErrInvalidInput, repository.MaxQueueStateSize)
	}

	query := `
		INSERT INTO upload_queue_state (queue_key, state, size, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(queue_key) DO UPDATE SET
			state = excluded.state,
			size = excluded.size,
			updated_at = excluded.updated_at
	`
	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)

	err := withBusyRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, key, state, len(state), updatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}
	return nil
}

// Load returns the document stored under key, or repository.ErrNotFound.
func (r *QueueStateRepository) Load(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var state []byte
	err := withBusyRetry(ctx, func() error {
		return r.db.QueryRowContext(ctx,
			"SELECT state FROM upload_queue_state WHERE queue_key = ?", key,
		).Scan(&state)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue state: %w", err)
	}
	return state, nil
}

// Delete removes the document stored under key.
func (r *QueueStateRepository) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := withBusyRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, "DELETE FROM upload_queue_state WHERE queue_key = ?", key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete queue state: %w", err)
	}
	return nil
}

// Info returns the size and last write time of the document stored under key.
func (r *QueueStateRepository) Info(ctx context.Context, key string) (*repository.QueueStateInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var size int
	var updatedAt string
	err := withBusyRetry(ctx, func() error {
		return r.db.QueryRowContext(ctx,
			"SELECT size, updated_at FROM upload_queue_state WHERE queue_key = ?", key,
		).Scan(&size, &updatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue state info: %w", err)
	}

	info := &repository.QueueStateInfo{Key: key, Size: size}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		info.UpdatedAt = t
	}
	return info, nil
}
