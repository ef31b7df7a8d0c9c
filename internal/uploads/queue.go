package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/repository"
)

const (
	// DefaultRetryCeiling is the number of retries granted per upload.
	DefaultRetryCeiling = 3

	// DefaultQueueKey is the persistence key of the durable queue document.
	DefaultQueueKey = "upload-queue"

	persistTimeout = 5 * time.Second
)

// StateStore is the persistence collaborator of the durable queue.
// repository.QueueStateRepository satisfies it.
type StateStore interface {
	Save(ctx context.Context, key string, state []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Key          string
	RetryCeiling int // retries allowed per entry; 0 disables retries
	Logger       *slog.Logger
}

// DefaultQueueOptions returns the default queue configuration.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{Key: DefaultQueueKey, RetryCeiling: DefaultRetryCeiling}
}

// Queue is the durable, payload-free projection of active upload tasks.
// Every change is written through to the StateStore on a best-effort basis:
// a failed write is logged and counted, never returned to the caller.
// Writes happen outside mu, so a slow StateStore never holds up readers.
type Queue struct {
	mu      sync.Mutex
	entries map[string]models.QueueEntry
	version uint64 // bumped by every change that must reach the StateStore

	// saveMu serializes writes; saved is the version last written. Lock order: saveMu → mu.
	saveMu sync.Mutex
	saved  uint64

	state   StateStore // nil keeps the queue in memory only
	key     string
	ceiling int
	logger  *slog.Logger
}

// NewQueue creates an empty queue backed by state.
func NewQueue(state StateStore, opts QueueOptions) *Queue {
	if opts.Key == "" {
		opts.Key = DefaultQueueKey
	}
	if opts.RetryCeiling < 0 {
		opts.RetryCeiling = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		entries: make(map[string]models.QueueEntry),
		state:   state,
		key:     opts.Key,
		ceiling: opts.RetryCeiling,
		logger:  opts.Logger,
	}
}

// Load replaces the in-memory entries with the persisted document.
// A missing document means no entries. Decode failures leave the queue empty and
// are returned so the caller can report them.
func (q *Queue) Load(ctx context.Context) (int, error) {
	q.saveMu.Lock()
	defer q.saveMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = make(map[string]models.QueueEntry)
	q.saved = q.version
	if q.state == nil {
		return 0, nil
	}

	data, err := q.state.Load(ctx, q.key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load queue state: %w", err)
	}

	entries, err := DecodeQueueState(data)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		q.entries[entry.ID] = entry
	}
	return len(q.entries), nil
}

// Sync mirrors a task into the queue and writes it through: active tasks are
// upserted keeping their retry count, tasks that left {pending, uploading} are removed.
func (q *Queue) Sync(task models.UploadTask) {
	q.sync(task)
	q.Flush()
}

// sync updates the in-memory entry without writing. Progress-only changes are not
// worth a write: orphan detection never reads progress, and the next structural
// change carries the latest value.
func (q *Queue) sync(task models.UploadTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, ok := q.entries[task.ID]
	if !task.Status.IsActive() {
		if ok {
			delete(q.entries, task.ID)
			q.version++
		}
		return
	}

	entry := models.QueueEntry{UploadTask: task, RetryCount: existing.RetryCount}
	if ok && existing == entry {
		return
	}
	q.entries[task.ID] = entry

	existing.Progress = entry.Progress
	if !ok || existing != entry {
		q.version++
	}
}

// Remove deletes an entry. It reports whether the entry existed.
func (q *Queue) Remove(id string) bool {
	removed := q.remove(id)
	q.Flush()
	return removed
}

func (q *Queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return false
	}
	delete(q.entries, id)
	q.version++
	return true
}

// RemoveMany deletes the given entries with a single write and returns how many existed.
func (q *Queue) RemoveMany(ids []string) int {
	q.mu.Lock()
	removed := 0
	for _, id := range ids {
		if _, ok := q.entries[id]; ok {
			delete(q.entries, id)
			removed++
		}
	}
	if removed > 0 {
		q.version++
	}
	q.mu.Unlock()

	q.Flush()
	return removed
}

// Get returns a copy of an entry.
func (q *Queue) Get(id string) (models.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[id]
	return entry, ok
}

// Entries returns a snapshot of all entries ordered by creation time.
func (q *Queue) Entries() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]models.QueueEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IncrementRetryCount bumps an entry's retry count and returns the new value.
// Unknown ids are ignored.
func (q *Queue) IncrementRetryCount(id string) (int, bool) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return 0, false
	}
	entry.RetryCount++
	q.entries[id] = entry
	q.version++
	q.mu.Unlock()

	q.Flush()
	return entry.RetryCount, true
}

// ShouldRetry reports whether the entry's retry count is still below the ceiling.
// Unknown ids are never retried.
func (q *Queue) ShouldRetry(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	return ok && entry.RetryCount < q.ceiling
}

// RetryCeiling returns the configured ceiling.
func (q *Queue) RetryCeiling() int {
	return q.ceiling
}

// Clear removes every entry and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.entries)
	q.entries = make(map[string]models.QueueEntry)
	q.version++
	q.mu.Unlock()

	q.Flush()
	return n
}

// Flush writes the latest state if it changed since the last successful write.
// Concurrent callers coalesce: whoever holds saveMu writes the newest snapshot and
// the others find nothing left to do. It must not be called with a Store lock held.
func (q *Queue) Flush() {
	if q.state == nil {
		return
	}

	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.Lock()
	version := q.version
	if version == q.saved {
		q.mu.Unlock()
		return
	}
	entries := make([]models.QueueEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		entries = append(entries, entry)
	}
	q.mu.Unlock()

	if q.persist(entries) {
		q.saved = version
	}
}

// persist encodes and saves entries, reporting success.
func (q *Queue) persist(entries []models.QueueEntry) bool {
	sortEntries(entries)

	data, err := EncodeQueueState(entries)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = q.state.Save(ctx, q.key, data)
		cancel()
	}
	if err != nil {
		metrics.QueuePersistErrorsTotal.Inc()
		q.logger.Warn("failed to persist upload queue",
			"key", q.key,
			"entries", len(entries),
			"error", err,
		)
		return false
	}
	return true
}
