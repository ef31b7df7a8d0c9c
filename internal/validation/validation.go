// Package validation rejects uploads before a task is ever created: bad filenames,
// blocked extensions, unsupported content and oversized payloads.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
)

// Rejection reasons, used as the metrics label.
const (
	ReasonEmpty            = "empty"
	ReasonFilename         = "filename"
	ReasonBlockedExtension = "blocked_extension"
	ReasonFileType         = "file_type"
	ReasonTypeMismatch     = "type_mismatch"
	ReasonTooLarge         = "too_large"
)

// Error describes why a request was rejected.
type Error struct {
	Field  string
	Reason string
	Err    error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Err.Error() + ": " + e.Detail
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Limits are the per-type size ceilings and the extension blocklist.
type Limits struct {
	MaxImageSize      int64
	MaxVideoSize      int64
	MaxDocumentSize   int64
	BlockedExtensions []string
}

// DefaultBlockedExtensions lists executable and script extensions refused by default.
var DefaultBlockedExtensions = []string{
	".exe", ".bat", ".cmd", ".sh", ".ps1", ".dll", ".so", ".msi", ".scr", ".vbs", ".jar", ".com", ".app", ".deb", ".rpm",
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxImageSize:      25 << 20,
		MaxVideoSize:      500 << 20,
		MaxDocumentSize:   100 << 20,
		BlockedExtensions: DefaultBlockedExtensions,
	}
}

// MaxSize returns the ceiling for a file type.
func (l Limits) MaxSize(t models.FileType) int64 {
	switch t {
	case models.FileTypeImage:
		return l.MaxImageSize
	case models.FileTypeVideo:
		return l.MaxVideoSize
	default:
		return l.MaxDocumentSize
	}
}

// Validator checks upload requests against Limits.
type Validator struct {
	limits Limits
}

// New creates a Validator. Blocked extensions are normalized to lowercase with a leading dot.
func New(limits Limits) *Validator {
	blocked := make([]string, 0, len(limits.BlockedExtensions))
	for _, ext := range limits.BlockedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		blocked = append(blocked, ext)
	}
	limits.BlockedExtensions = blocked
	return &Validator{limits: limits}
}

// Limits returns the validator's effective limits.
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate checks req against the payload and returns the normalized request:
// sanitized filename, detected MIME type, classified file type and the real size.
func (v *Validator) Validate(req models.UploadRequest, payload []byte) (models.UploadRequest, error) {
	if len(payload) == 0 {
		return req, reject("file", ReasonEmpty, ErrEmptyFile, "")
	}

	name := SanitizeFilename(req.FileName)
	if name == "" {
		return req, reject("file_name", ReasonFilename, ErrInvalidFilename, fmt.Sprintf("%q", req.FileName))
	}
	req.FileName = name

	if allowed, ext := IsFileAllowed(name, v.limits.BlockedExtensions); !allowed {
		return req, reject("file_name", ReasonBlockedExtension, ErrUnsupportedType, "extension "+ext+" is blocked")
	}

	detected := DetectMimeType(payload)
	contentType := ClassifyMime(detected)

	switch {
	case req.FileType == "":
		req.FileType = contentType
	case !req.FileType.Valid():
		return req, reject("file_type", ReasonFileType, ErrUnsupportedType, string(req.FileType))
	case req.FileType != models.FileTypeDocument && req.FileType != contentType:
		// Anything may be sent as a document, but media must really be media
		return req, reject("file_type", ReasonTypeMismatch, ErrUnsupportedType,
			fmt.Sprintf("declared %s, content is %s", req.FileType, detected))
	}

	if detected != "application/octet-stream" || req.MimeType == "" {
		req.MimeType = detected
	}

	req.FileSize = int64(len(payload))
	if limit := v.limits.MaxSize(req.FileType); limit > 0 && req.FileSize > limit {
		return req, reject("file", ReasonTooLarge, ErrFileTooLarge,
			fmt.Sprintf("%d bytes exceeds the %s limit of %d bytes", req.FileSize, req.FileType, limit))
	}

	return req, nil
}

func reject(field, reason string, err error, detail string) *Error {
	metrics.ValidationRejectionsTotal.WithLabelValues(reason).Inc()
	return &Error{Field: field, Reason: reason, Err: err, Detail: detail}
}

// DetectMimeType detects the MIME type from file content, without parameters.
func DetectMimeType(data []byte) string {
	mtype := mimetype.Detect(data)
	base, _, _ := strings.Cut(mtype.String(), ";")
	return strings.TrimSpace(base)
}

// ClassifyMime maps a MIME type to a file type.
func ClassifyMime(mimeType string) models.FileType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.FileTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.FileTypeVideo
	default:
		return models.FileTypeDocument
	}
}

// IsFileAllowed checks a filename against the blocklist, including inner extensions
// such as "invoice.exe.pdf". Returns the matched extension when blocked.
func IsFileAllowed(filename string, blockedExtensions []string) (bool, string) {
	if len(blockedExtensions) == 0 {
		return true, ""
	}

	parts := strings.Split(strings.ToLower(filename), ".")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		for _, blocked := range blockedExtensions {
			if "."+part == blocked {
				return false, blocked
			}
		}
	}
	return true, ""
}

// SanitizeFilename strips path components and replaces characters that are unsafe in
// object keys, headers and logs. It returns "" when nothing usable remains.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	var sanitized strings.Builder
	sanitized.Grow(len(filename))

	for _, r := range filename {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' || r == '.' || r == '(' || r == ')' {
			sanitized.WriteRune(r)
		} else {
			sanitized.WriteRune('_')
		}
	}

	result := strings.Trim(sanitized.String(), " .")
	if strings.Trim(result, "_") == "" {
		return ""
	}

	// Limit length to 255 bytes, keeping the extension
	if len(result) > 255 {
		ext := filepath.Ext(result)
		if len(ext) > 0 && len(ext) < 20 {
			result = result[:255-len(ext)] + ext
		} else {
			result = result[:255]
		}
	}

	return result
}
