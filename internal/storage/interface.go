// Package storage defines the transport that moves attachment payloads to their
// destination and returns a retrievable URL.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrTransferAborted is returned when a transfer stops because its context was cancelled.
var ErrTransferAborted = errors.New("transfer aborted")

// ProgressFunc receives transfer progress as a percentage. Calls are made from the
// transfer goroutine, in order, with non-decreasing values in [0, 100].
type ProgressFunc func(percent int)

// TransferRequest describes one payload to deliver.
type TransferRequest struct {
	UploadID    string
	ChatID      string
	IsGroupChat bool
	FileName    string
	MimeType    string
	Size        int64
	Body        io.Reader
}

// Transport performs the network transfer for an upload task.
//
// Implementations report zero or more progress callbacks and return exactly once,
// with the URL on success or an error on failure. When ctx is cancelled the
// transfer must abort and no further progress callbacks may be issued.
type Transport interface {
	Upload(ctx context.Context, req TransferRequest, progress ProgressFunc) (string, error)

	// Name identifies the backend in logs and health output.
	Name() string
}

// HealthChecker is implemented by transports that can probe their destination.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ObjectKey builds the destination key for a transfer:
// chats/<chat>/<upload>/<file> or groups/<chat>/<upload>/<file>.
func ObjectKey(req TransferRequest) string {
	scope := "chats"
	if req.IsGroupChat {
		scope = "groups"
	}
	return path.Join(scope, sanitizeSegment(req.ChatID), sanitizeSegment(req.UploadID), sanitizeSegment(req.FileName))
}

// sanitizeSegment keeps a key segment free of separators and traversal sequences.
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r < 0x20 || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, s)
	s = strings.ReplaceAll(s, "..", "_")
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return "_"
	}
	return s
}

// TransportError represents errors from transport operations with additional context.
type TransportError struct {
	Op      string // Operation that failed (e.g., "Upload", "HeadBucket")
	Key     string // Object key involved
	Err     error  // Underlying error
	Message string // Human-readable message
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError with the given details.
func NewTransportError(op, key string, err error) *TransportError {
	return &TransportError{
		Op:  op,
		Key: key,
		Err: err,
	}
}
