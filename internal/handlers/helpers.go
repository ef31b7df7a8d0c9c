package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/uploads"
	"github.com/treonstudio/chatuploads/internal/validation"
)

// sendError sends a JSON error response
func sendError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := models.ErrorResponse{
		Error: message,
		Code:  code,
	}

	json.NewEncoder(w).Encode(errResp)
}

// sendJSON writes v as a JSON response with the given status.
func sendJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// sendUploadError maps queueing errors to HTTP status codes and error codes.
func sendUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, uploads.ErrNotReady):
		w.Header().Set("Retry-After", "1")
		sendError(w, "Upload queue is still starting", "NOT_READY", http.StatusServiceUnavailable)
	case errors.Is(err, uploads.ErrPayloadTooLarge):
		w.Header().Set("Retry-After", "5")
		sendError(w, "Too many pending uploads, try again later", "BUDGET_EXCEEDED", http.StatusServiceUnavailable)
	case errors.Is(err, uploads.ErrEmptyPayload), errors.Is(err, validation.ErrEmptyFile):
		sendError(w, "File is empty", "EMPTY_FILE", http.StatusBadRequest)
	case errors.Is(err, validation.ErrFileTooLarge):
		sendError(w, err.Error(), "FILE_TOO_LARGE", http.StatusRequestEntityTooLarge)
	case errors.Is(err, validation.ErrUnsupportedType):
		sendError(w, err.Error(), "UNSUPPORTED_TYPE", http.StatusUnsupportedMediaType)
	case errors.Is(err, validation.ErrInvalidFilename):
		sendError(w, err.Error(), "INVALID_FILENAME", http.StatusBadRequest)
	case errors.Is(err, uploads.ErrInvalidRequest):
		sendError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
	default:
		slog.Error("failed to queue upload", "error", err)
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
