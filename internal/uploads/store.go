package uploads

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string

	// OnRelease is called once per task, outside the store lock, when the task
	// becomes terminal or is removed. The Manager frees the payload here.
	OnRelease func(id string)
}

type taskEntry struct {
	task     models.UploadTask
	cancel   func()
	released bool
}

// Store is the in-memory authoritative state of every upload task.
// Readers always receive copies, so a partially applied update is never visible.
type Store struct {
	mu            sync.RWMutex
	tasks         map[string]*taskEntry
	byTempMessage map[string]string

	queue     *Queue // kept in sync under mu; nil disables the projection
	onRelease func(id string)
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// NewStore creates an empty store that mirrors active tasks into queue.
func NewStore(queue *Queue, opts StoreOptions) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewUploadID
	}
	return &Store{
		tasks:         make(map[string]*taskEntry),
		byTempMessage: make(map[string]string),
		queue:         queue,
		onRelease:     opts.OnRelease,
		now:           opts.Now,
		newID:         opts.NewID,
		logger:        opts.Logger,
	}
}

// NewUploadID returns a fresh upload id. UUIDv7 combines a millisecond timestamp
// with random bits, so ids are unique for the process lifetime and sort by creation.
func NewUploadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "upload_" + id.String()
}

// AddUpload creates a pending task and returns its id.
// Only malformed requests fail, with ErrInvalidRequest.
func (s *Store) AddUpload(req models.UploadRequest) (string, error) {
	if err := checkRequest(req); err != nil {
		return "", err
	}

	s.mu.Lock()

	id := s.newID()
	for _, exists := s.tasks[id]; exists; _, exists = s.tasks[id] {
		id = s.newID()
	}

	task := models.UploadTask{
		ID:             id,
		ChatID:         req.ChatID,
		IsGroupChat:    req.IsGroupChat,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		FileType:       req.FileType,
		MimeType:       req.MimeType,
		TempMessageID:  req.TempMessageID,
		UserID:         req.UserID,
		UserName:       req.UserName,
		UserAvatar:     req.UserAvatar,
		ShouldCompress: req.ShouldCompress,
		Status:         models.StatusPending,
		Progress:       0,
		CreatedAt:      s.now(),
	}

	s.tasks[id] = &taskEntry{task: task}
	if task.TempMessageID != "" {
		s.byTempMessage[task.TempMessageID] = id
	}
	s.syncLocked(task)
	s.mu.Unlock()
	s.flushQueue()

	s.logger.Info("upload queued",
		"upload_id", id,
		"chat_id", task.ChatID,
		"file_type", task.FileType,
		"file_size", task.FileSize,
	)
	return id, nil
}

func checkRequest(req models.UploadRequest) error {
	switch {
	case req.ChatID == "":
		return fmt.Errorf("%w: chat_id is required", ErrInvalidRequest)
	case req.FileName == "":
		return fmt.Errorf("%w: file_name is required", ErrInvalidRequest)
	case !req.FileType.Valid():
		return fmt.Errorf("%w: unknown file_type %q", ErrInvalidRequest, req.FileType)
	case req.FileSize < 0:
		return fmt.Errorf("%w: negative file_size", ErrInvalidRequest)
	}
	return nil
}

// UpdateUpload merges patch into the task and reports whether anything was applied.
// Unknown ids, terminal tasks and invalid transitions are ignored. A Cancel handle in
// the patch is kept only while the task is uploading; otherwise it is invoked at once.
func (s *Store) UpdateUpload(id string, patch models.TaskPatch) bool {
	s.mu.Lock()

	entry, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		if patch.Cancel != nil {
			patch.Cancel()
		}
		s.logger.Debug("update for unknown upload dropped", "upload_id", id)
		return false
	}

	prev := entry.task
	next, err := applyPatch(prev, patch, s.now())
	if err != nil {
		s.mu.Unlock()
		if patch.Cancel != nil {
			patch.Cancel()
		}
		if prev.Status.IsTerminal() {
			s.logger.Debug("update for terminal upload dropped", "upload_id", id, "status", prev.Status)
		} else {
			s.logger.Warn("upload update rejected", "upload_id", id, "error", err)
		}
		return false
	}

	if patch.Cancel != nil {
		if next.Status == models.StatusUploading {
			entry.cancel = patch.Cancel
		} else {
			defer patch.Cancel()
		}
	}

	if next == prev {
		s.mu.Unlock()
		return false
	}

	entry.task = next
	terminal := next.Status.IsTerminal()
	if terminal {
		if next.Status == models.StatusCancelled && entry.cancel != nil {
			entry.cancel()
		}
		entry.cancel = nil
	}
	s.syncLocked(next)
	release := terminal && s.markReleasedLocked(entry)
	s.mu.Unlock()
	s.flushQueue()

	if prev.Status != next.Status {
		s.logTransition(prev, next)
	} else {
		s.logger.Debug("upload progress",
			"upload_id", id,
			"progress", next.Progress,
			"phase", next.Phase,
		)
	}
	if terminal {
		observeTerminal(next)
	}
	if release {
		s.release(id)
	}
	return true
}

// CancelUpload signals the task's cancellation handle and marks it cancelled.
// Already terminal tasks are left unchanged. Reports whether the task exists.
func (s *Store) CancelUpload(id string) bool {
	return s.UpdateUpload(id, models.TaskPatch{Status: models.StatusPtr(models.StatusCancelled)}) || s.has(id)
}

// RemoveUpload deletes a task, signalling its cancellation handle first so the
// transport stops reporting progress. Reports whether the task existed.
func (s *Store) RemoveUpload(id string) bool {
	s.mu.Lock()

	entry, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if entry.cancel != nil {
		entry.cancel()
		entry.cancel = nil
	}
	s.deleteLocked(entry)
	if s.queue != nil {
		s.queue.remove(id)
	}
	release := s.markReleasedLocked(entry)
	s.mu.Unlock()
	s.flushQueue()

	s.logger.Debug("upload removed", "upload_id", id, "status", entry.task.Status)
	if release {
		s.release(id)
	}
	return true
}

// GetUpload returns a copy of one task.
func (s *Store) GetUpload(id string) (models.UploadTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tasks[id]
	if !ok {
		return models.UploadTask{}, false
	}
	return entry.task, true
}

// GetUploadsByChat returns the tasks of one chat ordered by creation time.
func (s *Store) GetUploadsByChat(chatID string) []models.UploadTask {
	return s.filter(func(t *models.UploadTask) bool { return t.ChatID == chatID })
}

// GetAllActiveUploads returns every pending or uploading task ordered by creation time.
func (s *Store) GetAllActiveUploads() []models.UploadTask {
	return s.filter(func(t *models.UploadTask) bool { return t.Status.IsActive() })
}

// GetAllUploads returns every task ordered by creation time.
func (s *Store) GetAllUploads() []models.UploadTask {
	return s.filter(func(*models.UploadTask) bool { return true })
}

// GetUploadByTempMessageID looks a task up by the optimistic chat message it belongs to.
func (s *Store) GetUploadByTempMessageID(tempMessageID string) (models.UploadTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTempMessage[tempMessageID]
	if !ok {
		return models.UploadTask{}, false
	}
	entry, ok := s.tasks[id]
	if !ok {
		return models.UploadTask{}, false
	}
	return entry.task, true
}

// ClearCompletedUploads removes every completed, failed or cancelled task.
func (s *Store) ClearCompletedUploads() int {
	return s.clearTerminal(func(*models.UploadTask) bool { return true })
}

// ClearCompletedBefore removes terminal tasks that finished before cutoff.
func (s *Store) ClearCompletedBefore(cutoff time.Time) int {
	return s.clearTerminal(func(t *models.UploadTask) bool {
		return t.CompletedAt != nil && t.CompletedAt.Before(cutoff)
	})
}

// CountByStatus returns the number of tasks in each status.
func (s *Store) CountByStatus() map[models.UploadStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.UploadStatus]int, len(models.AllStatuses))
	for _, entry := range s.tasks {
		counts[entry.task.Status]++
	}
	return counts
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Store) filter(keep func(*models.UploadTask) bool) []models.UploadTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.UploadTask, 0)
	for _, entry := range s.tasks {
		if keep(&entry.task) {
			result = append(result, entry.task)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *Store) clearTerminal(match func(*models.UploadTask) bool) int {
	s.mu.Lock()
	var released []string
	removed := 0
	for _, entry := range s.tasks {
		if !entry.task.Status.IsTerminal() || !match(&entry.task) {
			continue
		}
		s.deleteLocked(entry)
		if s.markReleasedLocked(entry) {
			released = append(released, entry.task.ID)
		}
		removed++
	}
	s.mu.Unlock()

	for _, id := range released {
		s.release(id)
	}
	if removed > 0 {
		s.logger.Debug("cleared finished uploads", "count", removed)
	}
	return removed
}

// deleteLocked drops a task and its temp message index. Caller must hold s.mu.
func (s *Store) deleteLocked(entry *taskEntry) {
	delete(s.tasks, entry.task.ID)
	if tmp := entry.task.TempMessageID; tmp != "" && s.byTempMessage[tmp] == entry.task.ID {
		delete(s.byTempMessage, tmp)
	}
}

// syncLocked mirrors task into the queue's memory. The write happens in flushQueue,
// after mu is released.
func (s *Store) syncLocked(task models.UploadTask) {
	if s.queue != nil {
		s.queue.sync(task)
	}
}

func (s *Store) flushQueue() {
	if s.queue != nil {
		s.queue.Flush()
	}
}

func (s *Store) markReleasedLocked(entry *taskEntry) bool {
	if entry.released {
		return false
	}
	entry.released = true
	return true
}

func (s *Store) release(id string) {
	if s.onRelease != nil {
		s.onRelease(id)
	}
}

func (s *Store) logTransition(prev, next models.UploadTask) {
	attrs := []any{
		"upload_id", next.ID,
		"chat_id", next.ChatID,
		"from", prev.Status,
		"status", next.Status,
	}
	switch next.Status {
	case models.StatusFailed:
		s.logger.Error("upload failed", append(attrs, "error", next.Error)...)
	case models.StatusCompleted:
		s.logger.Info("upload completed", append(attrs, "url", next.UploadedURL)...)
	default:
		s.logger.Info("upload status changed", attrs...)
	}
}

func observeTerminal(task models.UploadTask) {
	metrics.UploadsTotal.WithLabelValues(string(task.Status)).Inc()
	if task.StartedAt != nil && task.CompletedAt != nil {
		metrics.UploadDuration.WithLabelValues(string(task.Status)).
			Observe(task.CompletedAt.Sub(*task.StartedAt).Seconds())
	}
	if task.Status == models.StatusCompleted {
		metrics.UploadBytes.Observe(float64(task.FileSize))
	}
}

// applyPatch computes the task resulting from patch without touching shared state.
func applyPatch(task models.UploadTask, patch models.TaskPatch, now time.Time) (models.UploadTask, error) {
	if task.Status.IsTerminal() {
		return task, errTerminalTask
	}

	next := task.Status
	if patch.Status != nil {
		next = *patch.Status
	}
	if !canTransition(task.Status, next) {
		return task, fmt.Errorf("%w: %s -> %s", errInvalidTransition, task.Status, next)
	}

	if next != task.Status {
		task.Status = next
		switch next {
		case models.StatusUploading:
			started := now
			task.StartedAt = &started
			task.Progress = 0
			task.Phase = ""
		case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
			completed := now
			task.CompletedAt = &completed
			task.Phase = ""
			finish(&task, patch)
			return task, nil
		}
	}

	if task.Status == models.StatusUploading {
		if patch.Progress != nil {
			p := min(max(*patch.Progress, 0), 100)
			if p > task.Progress {
				task.Progress = p
			}
		}
		if patch.Phase != nil && patch.Phase.Valid() {
			task.Phase = *patch.Phase
		}
	}
	return task, nil
}

// finish fills the fields written once on entry into a terminal status.
func finish(task *models.UploadTask, patch models.TaskPatch) {
	switch task.Status {
	case models.StatusCompleted:
		task.Progress = 100
		if patch.UploadedURL != nil {
			task.UploadedURL = *patch.UploadedURL
		}
	case models.StatusFailed:
		task.Error = FailedMessage
		if patch.Error != nil && *patch.Error != "" {
			task.Error = *patch.Error
		}
	case models.StatusCancelled:
		task.Error = CancelledMessage
		if patch.Error != nil && *patch.Error != "" {
			task.Error = *patch.Error
		}
	}
}

func canTransition(from, to models.UploadStatus) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusPending || to == models.StatusUploading || to == models.StatusCancelled
	case models.StatusUploading:
		return to == models.StatusUploading || to == models.StatusCompleted ||
			to == models.StatusFailed || to == models.StatusCancelled
	default:
		return false
	}
}
