// Package mock provides a mock implementation of the storage.Transport interface for testing.
// It keeps delivered objects in memory and supports injected failures, scripted
// progress and transfers that block until released or cancelled.
package mock

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/treonstudio/chatuploads/internal/storage"
)

// ErrUploadFailed is the default injected failure.
var ErrUploadFailed = errors.New("mock upload failed")

// Transport is a mock implementation of storage.Transport for testing.
type Transport struct {
	mu sync.Mutex

	objects  map[string][]byte // object key -> content
	attempts map[string]int    // upload id -> attempts

	// Error injection for testing
	UploadError error // returned by every attempt when FailFirst is 0
	FailFirst   int   // the first FailFirst attempts per upload fail with UploadError or ErrUploadFailed

	// ProgressSteps are reported in order before the transfer finishes.
	ProgressSteps []int

	// Gate, when non-nil, holds every transfer after its progress steps until the
	// channel is closed or the context is cancelled.
	Gate chan struct{}

	// Started, when non-nil, receives the upload id as each attempt begins.
	Started chan string

	// Custom behavior hook
	OnUpload func(ctx context.Context, req storage.TransferRequest, progress storage.ProgressFunc) (string, error)
}

// NewTransport creates a new mock Transport with default behavior.
func NewTransport() *Transport {
	return &Transport{
		objects:       make(map[string][]byte),
		attempts:      make(map[string]int),
		ProgressSteps: []int{25, 50, 75},
	}
}

// Ensure Transport implements storage.Transport
var _ storage.Transport = (*Transport)(nil)

// Name implements storage.Transport.
func (t *Transport) Name() string {
	return "mock"
}

// Reset clears all objects, counters, errors and hooks.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.objects = make(map[string][]byte)
	t.attempts = make(map[string]int)
	t.UploadError = nil
	t.FailFirst = 0
	t.ProgressSteps = []int{25, 50, 75}
	t.Gate = nil
	t.Started = nil
	t.OnUpload = nil
}

// Upload implements storage.Transport.Upload
func (t *Transport) Upload(ctx context.Context, req storage.TransferRequest, progress storage.ProgressFunc) (string, error) {
	t.mu.Lock()
	t.attempts[req.UploadID]++
	attempt := t.attempts[req.UploadID]
	uploadErr, failFirst := t.UploadError, t.FailFirst
	steps := append([]int(nil), t.ProgressSteps...)
	gate, started, hook := t.Gate, t.Started, t.OnUpload
	t.mu.Unlock()

	if started != nil {
		select {
		case started <- req.UploadID:
		case <-ctx.Done():
			return "", storage.ErrTransferAborted
		}
	}

	if hook != nil {
		return hook(ctx, req, progress)
	}

	if ctx.Err() != nil {
		return "", storage.ErrTransferAborted
	}

	content, err := io.ReadAll(req.Body)
	if err != nil {
		return "", storage.NewTransportError("Upload", req.UploadID, err)
	}

	if failFirst > 0 && attempt <= failFirst {
		if uploadErr != nil {
			return "", uploadErr
		}
		return "", ErrUploadFailed
	}
	if failFirst == 0 && uploadErr != nil {
		return "", uploadErr
	}

	for _, p := range steps {
		if ctx.Err() != nil {
			return "", storage.ErrTransferAborted
		}
		if progress != nil {
			progress(p)
		}
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", storage.ErrTransferAborted
		}
	}

	if ctx.Err() != nil {
		return "", storage.ErrTransferAborted
	}

	key := storage.ObjectKey(req)
	t.mu.Lock()
	t.objects[key] = content
	t.mu.Unlock()

	return "mock://" + key, nil
}

// Attempts returns how many times Upload was called for the given upload id.
func (t *Transport) Attempts(uploadID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[uploadID]
}

// Object returns a copy of a delivered object (for test assertions).
func (t *Transport) Object(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	content, exists := t.objects[key]
	if !exists {
		return nil, false
	}
	contentCopy := make([]byte, len(content))
	copy(contentCopy, content)
	return contentCopy, true
}

// Keys returns all delivered object keys in sorted order.
func (t *Transport) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.objects))
	for k := range t.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
