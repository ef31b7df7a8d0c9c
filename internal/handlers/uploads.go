package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/uploads"
)

// multipartMemory is the part of a multipart body kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// QueueUploadHandler accepts a multipart attachment, queues it and starts its transfer.
// Responds 202 with the created task.
func QueueUploadHandler(m *uploads.Manager, runner *uploads.Runner, maxRequestBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxRequestBytes {
			sendError(w, "Request body too large", "FILE_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				sendError(w, "Request body too large", "FILE_TOO_LARGE", http.StatusRequestEntityTooLarge)
				return
			}
			sendError(w, "Invalid form data", "INVALID_FORM", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			sendError(w, "No file provided", "NO_FILE", http.StatusBadRequest)
			return
		}
		defer file.Close()

		payload, err := io.ReadAll(file)
		if err != nil {
			slog.Error("failed to read uploaded file", "error", err)
			sendError(w, "Failed to read file", "INVALID_FORM", http.StatusBadRequest)
			return
		}

		req := models.UploadRequest{
			ChatID:         r.FormValue("chat_id"),
			FileName:       header.Filename,
			FileType:       models.FileType(r.FormValue("file_type")),
			MimeType:       header.Header.Get("Content-Type"),
			TempMessageID:  r.FormValue("temp_message_id"),
			UserID:         r.FormValue("user_id"),
			UserName:       r.FormValue("user_name"),
			UserAvatar:     r.FormValue("user_avatar"),
			IsGroupChat:    formBool(r, "is_group_chat"),
			ShouldCompress: formBool(r, "should_compress"),
		}
		if req.ChatID == "" {
			sendError(w, "chat_id is required", "INVALID_PARAMETER", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			sendError(w, "user_id is required", "INVALID_PARAMETER", http.StatusBadRequest)
			return
		}

		task, err := m.QueueUpload(r.Context(), req, payload)
		if err != nil {
			sendUploadError(w, err)
			return
		}

		if _, err := runner.Start(task.ID); err != nil {
			// Shutting down: the durable entry stays for the next start
			slog.Warn("upload queued but transfer not started", "upload_id", task.ID, "error", err)
		}

		sendJSON(w, task, http.StatusAccepted)
	}
}

// ListUploadsHandler lists the uploads of one chat (?chat_id=), or all uploads when omitted.
func ListUploadsHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tasks []models.UploadTask
		if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
			tasks = m.Store().GetUploadsByChat(chatID)
		} else {
			tasks = m.Store().GetAllUploads()
		}
		sendJSON(w, map[string]any{"uploads": nonNil(tasks), "count": len(tasks)}, http.StatusOK)
	}
}

// ActiveUploadsHandler lists pending and uploading tasks.
func ActiveUploadsHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks := m.Store().GetAllActiveUploads()
		sendJSON(w, map[string]any{"uploads": nonNil(tasks), "count": len(tasks)}, http.StatusOK)
	}
}

// UploadByMessageHandler looks a task up by its placeholder message id.
func UploadByMessageHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, ok := m.Store().GetUploadByTempMessageID(r.PathValue("tempMessageId"))
		if !ok {
			sendError(w, "Upload not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		sendJSON(w, task, http.StatusOK)
	}
}

// GetUploadHandler returns one task by id.
func GetUploadHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, ok := m.Store().GetUpload(r.PathValue("id"))
		if !ok {
			sendError(w, "Upload not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		sendJSON(w, task, http.StatusOK)
	}
}

// CancelUploadHandler cancels a task. Cancelling a finished task is a no-op that
// returns its current state.
func CancelUploadHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !m.CancelUpload(id) {
			sendError(w, "Upload not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		task, ok := m.Store().GetUpload(id)
		if !ok {
			sendError(w, "Upload not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		sendJSON(w, task, http.StatusOK)
	}
}

// DeleteUploadHandler removes a task, aborting it first when in flight.
func DeleteUploadHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.RemoveUpload(r.PathValue("id")) {
			sendError(w, "Upload not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ClearUploadsHandler drops every finished task.
func ClearUploadsHandler(m *uploads.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared := m.ClearCompletedUploads()
		sendJSON(w, map[string]int{"cleared": cleared}, http.StatusOK)
	}
}

func formBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.FormValue(key))
	return err == nil && v
}

func nonNil(tasks []models.UploadTask) []models.UploadTask {
	if tasks == nil {
		return []models.UploadTask{}
	}
	return tasks
}
