package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/storage"
	"github.com/treonstudio/chatuploads/internal/uploads"
)

// Health check timeout for external dependencies
const healthCheckTimeout = 5 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string             `json:"status"` // healthy, degraded, unhealthy
	Ready         bool               `json:"ready"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Database      string             `json:"database"`
	Storage       StorageHealth      `json:"storage"`
	Uploads       models.UploadStats `json:"uploads"`
	Startup       StartupHealth      `json:"startup"`
	ActiveRunners int                `json:"active_transfers"`
}

// StorageHealth reports the transport backend.
type StorageHealth struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// StartupHealth reports the outcome of startup reconciliation.
type StartupHealth struct {
	Loaded    int    `json:"loaded"`
	Purged    int    `json:"purged"`
	LoadError string `json:"load_error,omitempty"`
}

// setHealthCacheHeaders sets appropriate cache-control headers for health endpoints.
func setHealthCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// HealthHandler reports readiness of the upload manager, the database and the
// storage backend. A not-ready manager or an unreachable database is unhealthy (503);
// a failing storage probe is degraded (200) since queued work survives it.
func HealthHandler(m *uploads.Manager, runner *uploads.Runner, transport storage.Transport, ping func() error, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := HealthResponse{
			Status:        "healthy",
			Ready:         m.Ready(),
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Database:      "ok",
			Uploads:       m.Stats(),
		}
		if runner != nil {
			resp.ActiveRunners = runner.ActiveCount()
		}

		startup := m.StartupResult()
		resp.Startup = StartupHealth{Loaded: startup.Loaded, Purged: startup.Purged, LoadError: startup.LoadError}

		httpCode := http.StatusOK

		if transport != nil {
			resp.Storage = StorageHealth{Backend: transport.Name(), Status: "ok"}
			if checker, ok := transport.(storage.HealthChecker); ok {
				if err := checker.HealthCheck(ctx); err != nil {
					resp.Storage.Status = "error"
					resp.Storage.Error = err.Error()
					resp.Status = "degraded"
				}
			}
		}

		if ping != nil {
			if err := ping(); err != nil {
				resp.Database = "error"
				resp.Status = "unhealthy"
				httpCode = http.StatusServiceUnavailable
			}
		}

		if !resp.Ready {
			resp.Status = "unhealthy"
			httpCode = http.StatusServiceUnavailable
		}

		setHealthCacheHeaders(w)
		sendJSON(w, resp, httpCode)
	}
}
