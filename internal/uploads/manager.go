package uploads

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
)

// Validator rejects requests before a task is created and returns the normalized request.
type Validator interface {
	Validate(req models.UploadRequest, payload []byte) (models.UploadRequest, error)
}

// Notifier is told when durable entries were purged as orphans.
type Notifier interface {
	OrphansPurged(ctx context.Context, report models.OrphanReport) error
}

// Options configures a Manager.
type Options struct {
	QueueKey      string
	RetryCeiling  int   // retries allowed per upload; 0 disables retries
	PayloadBudget int64 // total registry bytes; 0 means unlimited

	Validator Validator // optional
	Notifier  Notifier  // optional

	// NotifyTimeout bounds one orphan notification; 0 means DefaultNotifyTimeout.
	NotifyTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// DefaultNotifyTimeout bounds an orphan notification running in the background.
const DefaultNotifyTimeout = time.Minute

// DefaultOptions returns the default manager configuration.
func DefaultOptions() Options {
	return Options{
		QueueKey:     DefaultQueueKey,
		RetryCeiling: DefaultRetryCeiling,
	}
}

// StartupResult summarizes startup reconciliation.
type StartupResult struct {
	Loaded    int    `json:"loaded"`
	Purged    int    `json:"purged"`
	LoadError string `json:"load_error,omitempty"`
}

// Manager is the bridge between the task store, the durable queue and the payload
// registry. It is the only component that creates tasks together with their payload.
type Manager struct {
	// mu serializes operations that span the store and the registry, so a durable
	// entry without a payload is never observable while the process is alive.
	mu sync.Mutex

	store    *Store
	queue    *Queue
	registry *Registry

	validator Validator
	notifier  Notifier
	logger    *slog.Logger

	// Notifications run in the background so a slow receiver never delays startup.
	notifyTimeout time.Duration
	notifyCtx     context.Context
	cancelNotify  context.CancelFunc
	notifications sync.WaitGroup

	now func() time.Time

	ready   atomic.Bool
	startup StartupResult
}

// Open builds a Manager, loads the durable queue from state and purges every entry
// found there before returning. Queuing is possible only after Open returns.
func Open(ctx context.Context, state StateStore, opts Options) (*Manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}

	m := &Manager{
		registry:      NewRegistry(opts.PayloadBudget),
		validator:     opts.Validator,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		now:           opts.Now,
		notifyTimeout: opts.NotifyTimeout,
	}
	m.notifyCtx, m.cancelNotify = context.WithCancel(context.Background())
	m.queue = NewQueue(state, QueueOptions{
		Key:          opts.QueueKey,
		RetryCeiling: opts.RetryCeiling,
		Logger:       opts.Logger,
	})
	m.store = NewStore(m.queue, StoreOptions{
		Logger:    opts.Logger,
		Now:       opts.Now,
		NewID:     opts.NewID,
		OnRelease: func(id string) { m.registry.Remove(id) },
	})

	loaded, err := m.queue.Load(ctx)
	if err != nil {
		m.logger.Warn("durable upload queue unreadable, starting empty", "error", err)
		m.startup.LoadError = err.Error()
	}
	m.startup.Loaded = loaded

	m.startup.Purged = m.reconcile(ctx, "startup")
	m.ready.Store(true)

	m.logger.Info("upload manager ready",
		"loaded_entries", m.startup.Loaded,
		"purged_entries", m.startup.Purged,
		"retry_ceiling", m.queue.RetryCeiling(),
	)
	return m, nil
}

// reconcile purges every durable entry whose payload is not in the registry.
// At startup that is every entry, since payloads are never persisted.
func (m *Manager) reconcile(ctx context.Context, reason string) int {
	m.mu.Lock()
	var orphans []models.QueueEntry
	for _, entry := range m.queue.Entries() {
		if !m.registry.Has(entry.ID) {
			orphans = append(orphans, entry)
		}
	}
	if len(orphans) == 0 {
		m.mu.Unlock()
		return 0
	}

	ids := make([]string, len(orphans))
	for i, entry := range orphans {
		ids[i] = entry.ID
	}
	m.queue.RemoveMany(ids)
	for _, id := range ids {
		m.store.RemoveUpload(id)
	}
	m.mu.Unlock()

	metrics.OrphansPurgedTotal.Add(float64(len(orphans)))
	m.logger.Warn("purged orphaned uploads",
		"count", len(orphans),
		"reason", reason,
	)
	for _, entry := range orphans {
		m.logger.Debug("orphaned upload purged",
			"upload_id", entry.ID,
			"chat_id", entry.ChatID,
			"file_name", entry.FileName,
			"retry_count", entry.RetryCount,
		)
	}

	if m.notifier != nil {
		m.notify(models.OrphanReport{
			Count:    len(orphans),
			Entries:  orphans,
			Reason:   reason,
			PurgedAt: m.now(),
		})
	}
	return len(orphans)
}

// notify hands report to the notifier in the background, bounded by notifyTimeout.
func (m *Manager) notify(report models.OrphanReport) {
	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()

		ctx, cancel := context.WithTimeout(m.notifyCtx, m.notifyTimeout)
		defer cancel()
		if err := m.notifier.OrphansPurged(ctx, report); err != nil {
			m.logger.Warn("orphan notification failed",
				"count", report.Count,
				"reason", report.Reason,
				"error", err,
			)
		}
	}()
}

// Close waits for background notifications. If ctx ends first they are cancelled
// and ctx's error is returned once they have stopped.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.notifications.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if m.cancelNotify != nil {
			m.cancelNotify()
		}
		<-done
		return ctx.Err()
	}
}

// SweepOrphans purges durable entries that lost their payload while running.
func (m *Manager) SweepOrphans(ctx context.Context) int {
	return m.reconcile(ctx, "sweep")
}

// QueueUpload validates the request, creates its task and durable entry and
// registers the payload. Either all of them exist afterwards or none does.
func (m *Manager) QueueUpload(ctx context.Context, req models.UploadRequest, payload []byte) (models.UploadTask, error) {
	if !m.ready.Load() {
		return models.UploadTask{}, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return models.UploadTask{}, err
	}
	if len(payload) == 0 {
		return models.UploadTask{}, ErrEmptyPayload
	}

	req.FileSize = int64(len(payload))
	if m.validator != nil {
		validated, err := m.validator.Validate(req, payload)
		if err != nil {
			m.logger.Info("upload rejected",
				"chat_id", req.ChatID,
				"file_name", req.FileName,
				"error", err,
			)
			return models.UploadTask{}, err
		}
		req = validated
	}

	m.mu.Lock()
	id, err := m.store.AddUpload(req)
	if err != nil {
		m.mu.Unlock()
		return models.UploadTask{}, err
	}
	if err := m.registry.Put(id, payload); err != nil {
		m.store.RemoveUpload(id)
		m.mu.Unlock()
		m.logger.Warn("upload rolled back", "upload_id", id, "error", err)
		return models.UploadTask{}, err
	}
	task, _ := m.store.GetUpload(id)
	m.mu.Unlock()

	metrics.UploadsQueuedTotal.WithLabelValues(string(task.FileType)).Inc()
	return task, nil
}

// GetFile returns the payload for id, or false when none is held.
func (m *Manager) GetFile(id string) ([]byte, bool) {
	return m.registry.Get(id)
}

// RemoveUpload deletes the task, its durable entry and its payload.
// Reports whether any of them existed.
func (m *Manager) RemoveUpload(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.store.RemoveUpload(id)
	if m.queue.Remove(id) {
		removed = true
	}
	if m.registry.Remove(id) {
		removed = true
	}
	return removed
}

// CancelUpload cancels a task. See Store.CancelUpload.
func (m *Manager) CancelUpload(id string) bool {
	return m.store.CancelUpload(id)
}

// UpdateUpload applies a patch. See Store.UpdateUpload.
func (m *Manager) UpdateUpload(id string, patch models.TaskPatch) bool {
	return m.store.UpdateUpload(id, patch)
}

// IncrementRetryCount records one more retry for id.
func (m *Manager) IncrementRetryCount(id string) (int, bool) {
	count, ok := m.queue.IncrementRetryCount(id)
	if ok {
		metrics.UploadRetriesTotal.Inc()
	}
	return count, ok
}

// ShouldRetry reports whether id may be retried once more.
func (m *Manager) ShouldRetry(id string) bool {
	return m.queue.ShouldRetry(id)
}

// ClearCompletedUploads removes every terminal task.
func (m *Manager) ClearCompletedUploads() int {
	return m.store.ClearCompletedUploads()
}

// ClearCompletedBefore removes terminal tasks finished before cutoff.
func (m *Manager) ClearCompletedBefore(cutoff time.Time) int {
	return m.store.ClearCompletedBefore(cutoff)
}

// Ready reports whether startup reconciliation has finished.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// StartupResult returns what Open found and purged.
func (m *Manager) StartupResult() StartupResult {
	return m.startup
}

// Stats implements metrics.StatsSource.
func (m *Manager) Stats() models.UploadStats {
	return models.UploadStats{
		ByStatus:      m.store.CountByStatus(),
		QueuedEntries: m.queue.Len(),
		Payloads:      m.registry.Len(),
		PayloadBytes:  m.registry.Bytes(),
	}
}

// Store returns the task store for read-only queries.
func (m *Manager) Store() *Store { return m.store }

// Queue returns the durable queue.
func (m *Manager) Queue() *Queue { return m.queue }

// Registry returns the payload registry.
func (m *Manager) Registry() *Registry { return m.registry }
