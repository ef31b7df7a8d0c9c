package postgres

import (
	"context"
	"fmt"

	"github.com/treonstudio/chatuploads/internal/repository"
)

// NewRepositories creates a connection pool, applies migrations and returns
// the PostgreSQL repository implementations. Cleanup closes the pool.
func NewRepositories(ctx context.Context, connString string, maxConns int) (*repository.Repositories, error) {
	if connString == "" {
		return nil, fmt.Errorf("%w: PostgreSQL connection string is empty", repository.ErrInvalidInput)
	}

	pool, err := NewPool(ctx, connString, int32(maxConns))
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	return NewRepositoriesWithPool(pool)
}

// NewRepositoriesWithPool creates the PostgreSQL repository implementations using an existing pool.
func NewRepositoriesWithPool(pool *Pool) (*repository.Repositories, error) {
	if pool == nil || pool.Pool == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		QueueState: NewQueueStateRepository(pool),
		Ping: func() error {
			return pool.Ping(context.Background())
		},
		DatabaseType: repository.DatabaseTypePostgreSQL,
		Cleanup:      pool.Close,
	}, nil
}
