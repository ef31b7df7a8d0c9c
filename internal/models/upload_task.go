package models

import (
	"context"
	"time"
)

// FileType classifies an attachment for validation limits and compression.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeDocument FileType = "document"
)

// Valid reports whether t is a known file type.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeImage, FileTypeVideo, FileTypeDocument:
		return true
	default:
		return false
	}
}

// Compressible reports whether attachments of this type go through the compression collaborator.
func (t FileType) Compressible() bool {
	return t == FileTypeImage || t == FileTypeVideo
}

// UploadStatus is the lifecycle state of an upload task.
type UploadStatus string

const (
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusCompleted UploadStatus = "completed"
	StatusFailed    UploadStatus = "failed"
	StatusCancelled UploadStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []UploadStatus{StatusPending, StatusUploading, StatusCompleted, StatusFailed, StatusCancelled}

// Valid reports whether s is a known status.
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the task still has work in flight (pending or uploading).
func (s UploadStatus) IsActive() bool {
	return s == StatusPending || s == StatusUploading
}

// IsTerminal reports whether no further mutation is permitted.
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// UploadPhase is the sub-state of an uploading task.
type UploadPhase string

const (
	PhaseCompressing UploadPhase = "compressing"
	PhaseUploading   UploadPhase = "uploading"
)

// Valid reports whether p is a known phase.
func (p UploadPhase) Valid() bool {
	return p == PhaseCompressing || p == PhaseUploading
}

// UploadTask is the full runtime state of one outbound attachment upload.
// The binary payload and the cancellation handle are held elsewhere and never appear here.
type UploadTask struct {
	ID             string       `json:"id"`
	ChatID         string       `json:"chat_id"`
	IsGroupChat    bool         `json:"is_group_chat"`
	FileName       string       `json:"file_name"`
	FileSize       int64        `json:"file_size"`
	FileType       FileType     `json:"file_type"`
	MimeType       string       `json:"mime_type"`
	TempMessageID  string       `json:"temp_message_id"`
	UserID         string       `json:"user_id"`
	UserName       string       `json:"user_name"`
	UserAvatar     string       `json:"user_avatar,omitempty"`
	ShouldCompress bool         `json:"should_compress,omitempty"`
	Status         UploadStatus `json:"status"`
	Progress       int          `json:"progress"`
	Phase          UploadPhase  `json:"phase,omitempty"`
	Error          string       `json:"error,omitempty"`
	UploadedURL    string       `json:"uploaded_url,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// UploadRequest carries the immutable metadata a caller supplies when queuing an upload.
type UploadRequest struct {
	ChatID         string   `json:"chat_id"`
	IsGroupChat    bool     `json:"is_group_chat"`
	FileName       string   `json:"file_name"`
	FileSize       int64    `json:"file_size"`
	FileType       FileType `json:"file_type"`
	MimeType       string   `json:"mime_type"`
	TempMessageID  string   `json:"temp_message_id"`
	UserID         string   `json:"user_id"`
	UserName       string   `json:"user_name"`
	UserAvatar     string   `json:"user_avatar,omitempty"`
	ShouldCompress bool     `json:"should_compress,omitempty"`
}

// TaskPatch is a partial update for a task. Nil fields are left unchanged.
type TaskPatch struct {
	Status      *UploadStatus
	Progress    *int
	Phase       *UploadPhase
	Error       *string
	UploadedURL *string

	// Cancel becomes the task's cancellation handle when the task is (or becomes) uploading.
	Cancel context.CancelFunc
}

// StatusPtr returns a pointer to s, for building patches.
func StatusPtr(s UploadStatus) *UploadStatus { return &s }

// PhasePtr returns a pointer to p.
func PhasePtr(p UploadPhase) *UploadPhase { return &p }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// UploadStats is a point-in-time summary used by metrics and health checks.
type UploadStats struct {
	ByStatus      map[UploadStatus]int `json:"by_status"`
	QueuedEntries int                  `json:"queued_entries"`
	Payloads      int                  `json:"payloads"`
	PayloadBytes  int64                `json:"payload_bytes"`
}
