package uploads

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/treonstudio/chatuploads/internal/media"
	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/storage"
)

// DefaultRetryDelay is the pause between a failed attempt and its retry.
const DefaultRetryDelay = 2 * time.Second

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	RetryDelay time.Duration
	Compressor media.Compressor // nil skips the compressing phase
	Logger     *slog.Logger
}

// Runner drives tasks through the transport: pending -> uploading (optionally
// compressing first) -> completed or failed, retrying within the retry ceiling.
type Runner struct {
	manager    *Manager
	transport  storage.Transport
	compressor media.Compressor
	retryDelay time.Duration
	logger     *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner for the tasks of m.
func NewRunner(m *Manager, transport storage.Transport, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		manager:    m,
		transport:  transport,
		compressor: opts.Compressor,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
		baseCtx:    ctx,
		cancelBase: cancel,
		active:     make(map[string]struct{}),
	}
}

// Start runs the task in the background. It returns ErrRunnerClosed after Shutdown
// began, and false with a nil error when the task is already running.
func (r *Runner) Start(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrRunnerClosed
	}
	if _, running := r.active[id]; running {
		return false, nil
	}
	r.active[id] = struct{}{}
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.finish(id)
		r.Run(r.baseCtx, id)
	}()
	return true, nil
}

func (r *Runner) finish(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// ActiveCount returns the number of transfers in flight.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown stops accepting transfers and waits for running ones. When ctx expires
// first, running transfers are aborted and ctx.Err() is returned once they stopped.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	active := len(r.active)
	r.mu.Unlock()

	r.logger.Info("upload runner: shutdown initiated", "active_uploads", active)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelBase()
		r.logger.Info("upload runner: all transfers completed gracefully")
		return nil
	case <-ctx.Done():
		r.logger.Warn("upload runner: timeout waiting for transfers, aborting",
			"remaining_uploads", r.ActiveCount(),
		)
		r.cancelBase()
		<-done
		return ctx.Err()
	}
}

// Run drives one pending task to a terminal status and returns its final state.
// Transport and compression errors end up in the task's error field.
func (r *Runner) Run(ctx context.Context, id string) (models.UploadTask, bool) {
	store := r.manager.Store()

	task, ok := store.GetUpload(id)
	if !ok {
		return models.UploadTask{}, false
	}
	if task.Status != models.StatusPending {
		return task, true
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	compress := r.compressor != nil && task.ShouldCompress && task.FileType.Compressible()
	phase := models.PhaseUploading
	if compress {
		phase = models.PhaseCompressing
	}

	started := store.UpdateUpload(id, models.TaskPatch{
		Status: models.StatusPtr(models.StatusUploading),
		Phase:  models.PhasePtr(phase),
		Cancel: func() { cancel(ErrUploadCancelled) },
	})
	if !started {
		return r.final(id)
	}

	payload, ok := r.manager.GetFile(id)
	if !ok {
		return r.fail(id, ErrPayloadUnavailable.Error())
	}

	mimeType := task.MimeType
	if compress {
		out, err := r.compressor.Compress(ctx, media.Input{
			FileType: task.FileType,
			MimeType: task.MimeType,
			FileName: task.FileName,
			Data:     payload,
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx, id)
			}
			return r.fail(id, "compression failed: "+err.Error())
		}
		if out.Compressed {
			payload, mimeType = out.Data, out.MimeType
			r.manager.Registry().Replace(id, payload)
		}
		store.UpdateUpload(id, models.TaskPatch{Phase: models.PhasePtr(models.PhaseUploading)})
	}

	for {
		req := storage.TransferRequest{
			UploadID:    id,
			ChatID:      task.ChatID,
			IsGroupChat: task.IsGroupChat,
			FileName:    task.FileName,
			MimeType:    mimeType,
			Size:        int64(len(payload)),
			Body:        bytes.NewReader(payload),
		}

		url, err := r.transport.Upload(ctx, req, func(percent int) {
			store.UpdateUpload(id, models.TaskPatch{Progress: models.IntPtr(percent)})
		})
		if err == nil {
			store.UpdateUpload(id, models.TaskPatch{
				Status:      models.StatusPtr(models.StatusCompleted),
				UploadedURL: models.StringPtr(url),
			})
			return r.final(id)
		}

		if ctx.Err() != nil {
			return r.interrupted(ctx, id)
		}

		if !r.manager.ShouldRetry(id) {
			return r.fail(id, err.Error())
		}
		count, _ := r.manager.IncrementRetryCount(id)
		r.logger.Warn("upload attempt failed, retrying",
			"upload_id", id,
			"retry_count", count,
			"retry_delay", r.retryDelay,
			"error", err,
		)

		if r.retryDelay > 0 {
			timer := time.NewTimer(r.retryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return r.interrupted(ctx, id)
			}
		}
	}
}

// interrupted handles a transfer whose context ended. A user cancel has already
// moved the task to cancelled; anything else (shutdown) fails it.
func (r *Runner) interrupted(ctx context.Context, id string) (models.UploadTask, bool) {
	if errors.Is(context.Cause(ctx), ErrUploadCancelled) {
		return r.final(id)
	}
	return r.fail(id, InterruptedMessage)
}

func (r *Runner) fail(id, message string) (models.UploadTask, bool) {
	r.manager.Store().UpdateUpload(id, models.TaskPatch{
		Status: models.StatusPtr(models.StatusFailed),
		Error:  models.StringPtr(message),
	})
	return r.final(id)
}

func (r *Runner) final(id string) (models.UploadTask, bool) {
	return r.manager.Store().GetUpload(id)
}
