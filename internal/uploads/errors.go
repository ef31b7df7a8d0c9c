// Package uploads tracks outbound chat attachment uploads.
//
// Three pieces hold the same logical work at different durability levels: the
// Store keeps every task's full runtime state, the Queue persists a payload-free
// projection of active tasks, and the Registry holds the binary payloads in memory.
// The Manager bridges them and reconciles the Queue on startup.
package uploads

import "errors"

var (
	// ErrNotReady is returned when uploads are queued before startup reconciliation finished.
	ErrNotReady = errors.New("upload queue is not ready")

	// ErrPayloadTooLarge is returned when a payload does not fit in the registry budget.
	ErrPayloadTooLarge = errors.New("payload registry budget exceeded")

	// ErrEmptyPayload is returned when an upload is queued without content.
	ErrEmptyPayload = errors.New("payload is empty")

	// ErrInvalidRequest is returned for malformed upload requests.
	ErrInvalidRequest = errors.New("invalid upload request")

	// ErrUploadCancelled is the cancellation cause attached to a task's transfer context.
	ErrUploadCancelled = errors.New("upload cancelled by user")

	// ErrPayloadUnavailable means a task was started but its payload is gone.
	ErrPayloadUnavailable = errors.New("payload unavailable")

	// ErrRunnerClosed is returned when transfers are started after shutdown began.
	ErrRunnerClosed = errors.New("upload runner is shut down")

	errTerminalTask      = errors.New("task is terminal")
	errInvalidTransition = errors.New("invalid status transition")
)

// Messages stored in a task's error field.
const (
	CancelledMessage   = "Upload cancelled by user"
	FailedMessage      = "Upload failed"
	InterruptedMessage = "Upload interrupted"
)
