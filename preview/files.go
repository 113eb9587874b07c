package preview

import (
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// NewDirectoryHandler serves saved recordings and manifests from dir.
// Requests that resolve outside dir get 404.
func NewDirectoryHandler(dir string, log *slog.Logger) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			rec.WriteHeader(http.StatusOK)
			return
		}
		if _, ok := resolvePath(dir, r.URL.Path); !ok {
			http.NotFound(rec, r)
			log.Debug("recording request rejected", "path", r.URL.Path)
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, ".mp4"):
			w.Header().Set("Content-Type", "video/mp4")
		case strings.HasSuffix(r.URL.Path, ".json"):
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-cache")
		}

		fileServer.ServeHTTP(rec, r)
		log.Debug("recording request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
		)
	})
}

func resolvePath(baseDir, reqPath string) (string, bool) {
	clean := path.Clean("/" + reqPath)
	rel := strings.TrimPrefix(clean, "/")
	full := filepath.Join(baseDir, rel)
	checkRel, err := filepath.Rel(baseDir, full)
	if err != nil {
		return "", false
	}
	if checkRel == ".." || strings.HasPrefix(checkRel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
