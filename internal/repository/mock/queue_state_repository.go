// Package mock provides in-memory implementations of repository interfaces for testing.
// Error injection fields (e.g., SaveError) and hooks (e.g., OnSave) should be set
// BEFORE any concurrent operations begin; they are not protected by the mutex.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/treonstudio/chatuploads/internal/repository"
)

// QueueStateRepository is a mock implementation of repository.QueueStateRepository.
type QueueStateRepository struct {
	mu sync.RWMutex

	states  map[string][]byte
	updated map[string]time.Time
	saves   int

	// Error injection for testing error handling
	SaveError   error
	LoadError   error
	DeleteError error

	// Custom behavior hooks
	OnSave func(ctx context.Context, key string, state []byte) error
}

// NewQueueStateRepository creates a new empty mock QueueStateRepository.
func NewQueueStateRepository() *QueueStateRepository {
	return &QueueStateRepository{
		states:  make(map[string][]byte),
		updated: make(map[string]time.Time),
	}
}

// Ensure QueueStateRepository implements repository.QueueStateRepository
var _ repository.QueueStateRepository = (*QueueStateRepository)(nil)

// Save stores a copy of state under key.
func (r *QueueStateRepository) Save(ctx context.Context, key string, state []byte) error {
	if r.SaveError != nil {
		return r.SaveError
	}
	if r.OnSave != nil {
		if err := r.OnSave(ctx, key, state); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[key] = append([]byte(nil), state...)
	r.updated[key] = time.Now()
	r.saves++
	return nil
}

// Load returns a copy of the state stored under key.
func (r *QueueStateRepository) Load(ctx context.Context, key string) ([]byte, error) {
	if r.LoadError != nil {
		return nil, r.LoadError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), state...), nil
}

// Delete removes the state stored under key.
func (r *QueueStateRepository) Delete(ctx context.Context, key string) error {
	if r.DeleteError != nil {
		return r.DeleteError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, key)
	delete(r.updated, key)
	return nil
}

// Info returns metadata for the state stored under key.
func (r *QueueStateRepository) Info(ctx context.Context, key string) (*repository.QueueStateInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.QueueStateInfo{Key: key, Size: len(state), UpdatedAt: r.updated[key]}, nil
}

// Put seeds state directly, bypassing SaveError and hooks.
func (r *QueueStateRepository) Put(key string, state []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[key] = append([]byte(nil), state...)
	r.updated[key] = time.Now()
}

// SaveCount returns the number of successful Save calls.
func (r *QueueStateRepository) SaveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// Reset clears all state and injected errors.
func (r *QueueStateRepository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = make(map[string][]byte)
	r.updated = make(map[string]time.Time)
	r.saves = 0
	r.SaveError = nil
	r.LoadError = nil
	r.DeleteError = nil
	r.OnSave = nil
}

// NewRepositories returns an in-memory Repositories value for tests.
func NewRepositories() (*repository.Repositories, *QueueStateRepository) {
	queue := NewQueueStateRepository()
	return &repository.Repositories{
		QueueState:   queue,
		Ping:         func() error { return nil },
		DatabaseType: repository.DatabaseTypeMemory,
	}, queue
}
