package repository

import (
	"context"
	"time"
)

// MaxQueueStateSize bounds a single serialized queue document (16MB).
const MaxQueueStateSize = 16 * 1024 * 1024

// QueueStateRepository stores serialized durable queue documents under a key.
// It is a best-effort key-value store: callers treat ErrNotFound as "no entries".
type QueueStateRepository interface {
	// Save replaces the document stored under key.
	Save(ctx context.Context, key string, state []byte) error

	// Load returns the document stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes the document stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Info returns metadata about the stored document, or ErrNotFound.
	Info(ctx context.Context, key string) (*QueueStateInfo, error)
}

// QueueStateInfo describes a stored queue document without its contents.
type QueueStateInfo struct {
	Key       string
	Size      int
	UpdatedAt time.Time
}
