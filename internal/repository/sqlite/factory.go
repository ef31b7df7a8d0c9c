package sqlite

import (
	"database/sql"

	"github.com/treonstudio/chatuploads/internal/repository"
)

// NewRepositories creates the SQLite repository implementations.
// The db parameter must be a valid, open database connection with migrations applied.
//
// Returns the repositories struct with DatabaseType set to "sqlite" and
// a Cleanup function that closes the database connection.
func NewRepositories(db *sql.DB) (*repository.Repositories, error) {
	if db == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		QueueState:   NewQueueStateRepository(db),
		Ping:         db.Ping,
		DatabaseType: repository.DatabaseTypeSQLite,
		Cleanup: func() {
			db.Close()
		},
	}, nil
}
