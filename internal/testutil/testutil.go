// Package testutil holds shared fixtures and helpers for package tests.
package testutil

import (
	"bytes"
	"database/sql"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/treonstudio/chatuploads/internal/config"
	"github.com/treonstudio/chatuploads/internal/database"
)

// SetupTestDB creates an in-memory SQLite database for testing
// The database is automatically closed when the test completes
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open(database.DriverName, ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// IMPORTANT: Force single connection for in-memory databases
	// Each connection in the pool gets its own separate :memory: database
	db.SetMaxOpenConns(1)

	if err := database.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SetupTestConfig returns the default configuration rooted in a temporary data directory.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "chatuploads.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.RetryDelay = 0
	cfg.LogLevel = "debug"

	return &cfg
}

// CreateMultipartForm creates a multipart form with a file upload
// Returns the body buffer and content type for the request
func CreateMultipartForm(t *testing.T, fileContent []byte, filename string, formValues map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if fileContent != nil {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}

		if _, err := io.Copy(part, bytes.NewReader(fileContent)); err != nil {
			t.Fatalf("failed to write file content: %v", err)
		}
	}

	for key, val := range formValues {
		if err := writer.WriteField(key, val); err != nil {
			t.Fatalf("failed to write form field %s: %v", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

// AssertStatusCode checks that the HTTP response status code matches expected
func AssertStatusCode(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()

	if rr.Code != wantStatus {
		t.Errorf("status code = %d, want %d\nBody: %s", rr.Code, wantStatus, rr.Body.String())
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
