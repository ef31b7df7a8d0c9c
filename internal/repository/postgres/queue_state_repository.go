package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/treonstudio/chatuploads/internal/repository"
)

// QueueStateRepository implements repository.QueueStateRepository for PostgreSQL.
type QueueStateRepository struct {
	pool *Pool
}

// NewQueueStateRepository creates a new PostgreSQL queue state repository.
func NewQueueStateRepository(pool *Pool) *QueueStateRepository {
	return &QueueStateRepository{pool: pool}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: queue key cannot be empty", repository.ErrInvalidInput)
	}
	if len(key) > 255 {
		return fmt.Errorf("%w: queue key too long", repository.ErrInvalidInput)
	}
	return nil
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
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (queue_key) DO UPDATE SET
			state = EXCLUDED.state,
			size = EXCLUDED.size,
			updated_at = EXCLUDED.updated_at
	`
	err := withRetryNoReturn(ctx, defaultMaxRetries, func() error {
		_, err := r.pool.Exec(ctx, query, key, state, len(state))
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

	state, err := withRetry(ctx, defaultMaxRetries, func() ([]byte, error) {
		var state []byte
		err := r.pool.QueryRow(ctx, "SELECT state FROM upload_queue_state WHERE queue_key = $1", key).Scan(&state)
		return state, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
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

	err := withRetryNoReturn(ctx, defaultMaxRetries, func() error {
		_, err := r.pool.Exec(ctx, "DELETE FROM upload_queue_state WHERE queue_key = $1", key)
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
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx,
		"SELECT size, updated_at FROM upload_queue_state WHERE queue_key = $1", key,
	).Scan(&size, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue state info: %w", err)
	}

	return &repository.QueueStateInfo{Key: key, Size: size, UpdatedAt: updatedAt}, nil
}
