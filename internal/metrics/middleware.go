package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// normalizePath replaces upload ids and temp message ids with placeholders
// to keep label cardinality bounded
func normalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/api/uploads", "/api/uploads/active", "/api/uploads/clear":
		return path
	}

	const prefix = "/api/uploads/"
	if !strings.HasPrefix(path, prefix) {
		return "/other"
	}

	rest := strings.TrimPrefix(path, prefix)
	switch {
	case strings.HasPrefix(rest, "by-message/"):
		return "/api/uploads/by-message/:temp_message_id"
	case strings.HasSuffix(rest, "/cancel") && strings.Count(rest, "/") == 1:
		return "/api/uploads/:id/cancel"
	case rest != "" && !strings.Contains(rest, "/"):
		return "/api/uploads/:id"
	default:
		return "/other"
	}
}
