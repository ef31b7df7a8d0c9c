package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/middleware"
	"github.com/treonstudio/chatuploads/internal/storage"
	"github.com/treonstudio/chatuploads/internal/uploads"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Manager   *uploads.Manager
	Runner    *uploads.Runner
	Transport storage.Transport

	// Ping checks database connectivity. May be nil.
	Ping func() error

	// FilesDir, when set, is served under /files/ (filesystem backend).
	FilesDir string

	MaxRequestBytes int64
	StartTime       time.Time
	Logger          *slog.Logger
}

// NewRouter builds the HTTP handler with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.StartTime.IsZero() {
		d.StartTime = time.Now()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/uploads", QueueUploadHandler(d.Manager, d.Runner, d.MaxRequestBytes))
	mux.HandleFunc("GET /api/uploads", ListUploadsHandler(d.Manager))
	mux.HandleFunc("GET /api/uploads/active", ActiveUploadsHandler(d.Manager))
	mux.HandleFunc("POST /api/uploads/clear", ClearUploadsHandler(d.Manager))
	mux.HandleFunc("GET /api/uploads/by-message/{tempMessageId}", UploadByMessageHandler(d.Manager))
	mux.HandleFunc("GET /api/uploads/{id}", GetUploadHandler(d.Manager))
	mux.HandleFunc("POST /api/uploads/{id}/cancel", CancelUploadHandler(d.Manager))
	mux.HandleFunc("DELETE /api/uploads/{id}", DeleteUploadHandler(d.Manager))

	mux.HandleFunc("GET /health", HealthHandler(d.Manager, d.Runner, d.Transport, d.Ping, d.StartTime))
	mux.Handle("GET /metrics", MetricsHandler(d.Manager))

	if d.FilesDir != "" {
		mux.Handle("GET /files/", FilesHandler(d.FilesDir))
	}

	return middleware.Chain(mux,
		middleware.RecoveryMiddleware,
		middleware.LoggingMiddleware(d.Logger),
		metrics.Middleware,
		middleware.SecurityHeadersMiddleware,
	)
}
