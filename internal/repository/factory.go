package repository

// Repositories holds the repository implementations for one database backend.
type Repositories struct {
	QueueState QueueStateRepository

	// Ping checks backend connectivity for health reporting. May be nil.
	Ping func() error

	DatabaseType DatabaseType

	// Cleanup releases the underlying connection. May be nil.
	Cleanup func()
}

// Close runs Cleanup if one is set.
func (r *Repositories) Close() {
	if r != nil && r.Cleanup != nil {
		r.Cleanup()
	}
}
