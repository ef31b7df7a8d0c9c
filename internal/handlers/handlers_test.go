package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/treonstudio/chatuploads/internal/models"
	storagemock "github.com/treonstudio/chatuploads/internal/storage/mock"
	"github.com/treonstudio/chatuploads/internal/testutil"
	"github.com/treonstudio/chatuploads/internal/uploads"
	"github.com/treonstudio/chatuploads/internal/validation"
)

type testServer struct {
	handler   http.Handler
	manager   *uploads.Manager
	runner    *uploads.Runner
	transport *storagemock.Transport
}

func newTestServer(t *testing.T, configure ...func(*Deps)) *testServer {
	t.Helper()

	env := testutil.NewMockTestEnv(t)
	deps := Deps{
		Manager:         env.Manager,
		Runner:          env.Runner,
		Transport:       env.Transport,
		MaxRequestBytes: 1 << 20,
		Logger:          env.Logger,
	}
	for _, fn := range configure {
		fn(&deps)
	}

	return &testServer{
		handler:   NewRouter(deps),
		manager:   env.Manager,
		runner:    env.Runner,
		transport: env.Transport,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func multipartRequest(t *testing.T, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	if fileName == "" {
		content = nil
	} else if content == nil {
		content = []byte{}
	}
	body, contentType := testutil.CreateMultipartForm(t, content, fileName, fields)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func documentFields() map[string]string {
	return map[string]string{
		"chat_id":         "chat-1",
		"temp_message_id": "tmp-1",
		"user_id":         "u1",
		"user_name":       "Ana",
		"file_type":       "document",
	}
}

func decodeTask(t *testing.T, rr *httptest.ResponseRecorder) models.UploadTask {
	t.Helper()
	var task models.UploadTask
	if err := json.NewDecoder(rr.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v (body %q)", err, rr.Body.String())
	}
	return task
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp
}

func waitForStatus(t *testing.T, m *uploads.Manager, id string, want models.UploadStatus) models.UploadTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := m.Store().GetUpload(id); ok && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := m.Store().GetUpload(id)
	t.Fatalf("task %s status = %s, want %s", id, task.Status, want)
	return task
}

func TestQueueUploadHandler_Accepted(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, multipartRequest(t, documentFields(), "notes.txt", []byte("hello world")))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rr.Code, rr.Body.String())
	}
	task := decodeTask(t, rr)
	if task.ID == "" || task.ChatID != "chat-1" || task.FileType != models.FileTypeDocument {
		t.Fatalf("task = %+v", task)
	}
	if task.FileSize != int64(len("hello world")) {
		t.Errorf("FileSize = %d", task.FileSize)
	}

	done := waitForStatus(t, s.manager, task.ID, models.StatusCompleted)
	if done.UploadedURL == "" || done.Progress != 100 {
		t.Errorf("completed task = %+v", done)
	}
	if s.manager.Registry().Has(task.ID) {
		t.Error("payload should be released after completion")
	}
}

func TestQueueUploadHandler_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		fields   map[string]string
		fileName string
		content  []byte
		want     int
		code     string
	}{
		{"no file", documentFields(), "", nil, http.StatusBadRequest, "NO_FILE"},
		{"missing chat", map[string]string{"user_id": "u1"}, "a.txt", []byte("x"), http.StatusBadRequest, "INVALID_PARAMETER"},
		{"missing user", map[string]string{"chat_id": "c"}, "a.txt", []byte("x"), http.StatusBadRequest, "INVALID_PARAMETER"},
		{"empty file", documentFields(), "a.txt", []byte{}, http.StatusBadRequest, "EMPTY_FILE"},
		{"blocked extension", documentFields(), "setup.exe", []byte("MZ..."), http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, multipartRequest(t, tt.fields, tt.fileName, tt.content))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
			if got := decodeError(t, rr).Code; got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}

	if n := len(s.manager.Store().GetAllUploads()); n != 0 {
		t.Errorf("rejected uploads left %d tasks", n)
	}
}

func TestQueueUploadHandler_ImageMismatch(t *testing.T) {
	s := newTestServer(t)
	fields := documentFields()
	fields["file_type"] = "image"

	rr := s.do(t, multipartRequest(t, fields, "photo.jpg", []byte("not really an image")))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rr.Code)
	}
}

func TestQueueUploadHandler_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, func(d *Deps) { d.MaxRequestBytes = 64 })

	rr := s.do(t, multipartRequest(t, documentFields(), "big.txt", bytes.Repeat([]byte("a"), 4096)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestSendUploadError(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{uploads.ErrNotReady, http.StatusServiceUnavailable, "NOT_READY"},
		{uploads.ErrPayloadTooLarge, http.StatusServiceUnavailable, "BUDGET_EXCEEDED"},
		{uploads.ErrEmptyPayload, http.StatusBadRequest, "EMPTY_FILE"},
		{&validation.Error{Err: validation.ErrFileTooLarge}, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{&validation.Error{Err: validation.ErrInvalidFilename}, http.StatusBadRequest, "INVALID_FILENAME"},
		{uploads.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		sendUploadError(rr, tt.err)
		if rr.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.want)
		}
		if got := decodeError(t, rr).Code; got != tt.code {
			t.Errorf("%v: code = %s, want %s", tt.err, got, tt.code)
		}
	}
}

func TestUploadQueries(t *testing.T) {
	s := newTestServer(t)
	s.transport.Gate = make(chan struct{})
	defer close(s.transport.Gate)

	rr := s.do(t, multipartRequest(t, documentFields(), "notes.txt", []byte("hello")))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("queue status = %d", rr.Code)
	}
	task := decodeTask(t, rr)

	t.Run("by id", func(t *testing.T) {
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/api/uploads/"+task.ID, nil))
		if rr.Code != http.StatusOK || decodeTask(t, rr).ID != task.ID {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("by message", func(t *testing.T) {
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/api/uploads/by-message/tmp-1", nil))
		if rr.Code != http.StatusOK || decodeTask(t, rr).ID != task.ID {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("by chat", func(t *testing.T) {
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/api/uploads?chat_id=chat-1", nil))
		var body struct {
			Uploads []models.UploadTask `json:"uploads"`
			Count   int                 `json:"count"`
		}
		json.NewDecoder(rr.Body).Decode(&body)
		if body.Count != 1 || body.Uploads[0].ID != task.ID {
			t.Fatalf("body = %+v", body)
		}

		rr = s.do(t, httptest.NewRequest(http.MethodGet, "/api/uploads?chat_id=other", nil))
		body.Uploads, body.Count = nil, -1
		json.NewDecoder(rr.Body).Decode(&body)
		if body.Count != 0 || body.Uploads == nil {
			t.Fatalf("other chat body = %+v", body)
		}
	})

	t.Run("active", func(t *testing.T) {
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/api/uploads/active", nil))
		var body struct {
			Count int `json:"count"`
		}
		json.NewDecoder(rr.Body).Decode(&body)
		if body.Count != 1 {
			t.Fatalf("active count = %d, want 1", body.Count)
		}
	})

	t.Run("not found", func(t *testing.T) {
		for _, path := range []string{"/api/uploads/upload_missing", "/api/uploads/by-message/nope"} {
			rr := s.do(t, httptest.NewRequest(http.MethodGet, path, nil))
			if rr.Code != http.StatusNotFound {
				t.Errorf("%s: status = %d, want 404", path, rr.Code)
			}
		}
	})
}

func TestCancelAndDeleteHandlers(t *testing.T) {
	s := newTestServer(t)
	s.transport.Gate = make(chan struct{})
	defer close(s.transport.Gate)

	task := decodeTask(t, s.do(t, multipartRequest(t, documentFields(), "notes.txt", []byte("hello"))))

	rr := s.do(t, httptest.NewRequest(http.MethodPost, "/api/uploads/"+task.ID+"/cancel", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rr.Code)
	}
	cancelled := decodeTask(t, rr)
	if cancelled.Status != models.StatusCancelled || cancelled.Error != uploads.CancelledMessage {
		t.Fatalf("cancelled task = %+v", cancelled)
	}

	// Cancelling again is a no-op
	rr = s.do(t, httptest.NewRequest(http.MethodPost, "/api/uploads/"+task.ID+"/cancel", nil))
	if rr.Code != http.StatusOK || decodeTask(t, rr).Status != models.StatusCancelled {
		t.Fatalf("second cancel status = %d", rr.Code)
	}

	rr = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/uploads/"+task.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/uploads/"+task.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
	rr = s.do(t, httptest.NewRequest(http.MethodPost, "/api/uploads/upload_missing/cancel", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown status = %d, want 404", rr.Code)
	}
}

func TestClearUploadsHandler(t *testing.T) {
	s := newTestServer(t)

	task := decodeTask(t, s.do(t, multipartRequest(t, documentFields(), "notes.txt", []byte("hello"))))
	waitForStatus(t, s.manager, task.ID, models.StatusCompleted)

	rr := s.do(t, httptest.NewRequest(http.MethodPost, "/api/uploads/clear", nil))
	var body map[string]int
	json.NewDecoder(rr.Body).Decode(&body)
	if body["cleared"] != 1 {
		t.Fatalf("cleared = %d, want 1", body["cleared"])
	}
	if _, ok := s.manager.Store().GetUpload(task.ID); ok {
		t.Error("completed task should be gone")
	}
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t)
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var resp HealthResponse
		json.NewDecoder(rr.Body).Decode(&resp)
		if resp.Status != "healthy" || !resp.Ready || resp.Storage.Backend != "mock" {
			t.Errorf("resp = %+v", resp)
		}
		if rr.Header().Get("Cache-Control") == "" {
			t.Error("health response should not be cacheable")
		}
	})

	t.Run("database down", func(t *testing.T) {
		s := newTestServer(t, func(d *Deps) {
			d.Ping = func() error { return errors.New("connection refused") }
		})
		rr := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rr.Code)
		}
		var resp HealthResponse
		json.NewDecoder(rr.Body).Decode(&resp)
		if resp.Status != "unhealthy" || resp.Database != "error" {
			t.Errorf("resp = %+v", resp)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	// A second router must not panic on duplicate registration
	newTestServer(t)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("chatuploads_tasks")) {
		t.Error("metrics output missing chatuploads_tasks gauge")
	}
}

func TestFilesHandler(t *testing.T) {
	dir := t.TempDir()
	objDir := filepath.Join(dir, "chats", "c1", "upload_1")
	if err := os.MkdirAll(objDir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(objDir, "a.txt"), []byte("attachment"), 0644)

	s := newTestServer(t, func(d *Deps) { d.FilesDir = dir })

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/files/chats/c1/upload_1/a.txt", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "attachment" {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("files must be served with nosniff")
	}

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/files/chats/", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("directory listing status = %d, want 404", rr.Code)
	}
}
