package handlers

import (
	"net/http"
	"strings"
)

// FilesHandler serves objects written by the filesystem transport under /files/.
// Directory listings are refused.
func FilesHandler(baseDir string) http.Handler {
	fileServer := http.StripPrefix("/files/", http.FileServer(http.Dir(baseDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			sendError(w, "Not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Disposition", "attachment")
		fileServer.ServeHTTP(w, r)
	})
}
