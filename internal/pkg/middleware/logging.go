package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/security"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Logging assigns every request an id (reusing the caller's X-Request-ID
// when present) and logs method, path, status and duration.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := security.SanitizeForLogWithLength(r.Header.Get(RequestIDHeader), 64)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.Debug("HTTP request",
				"request_id", requestID,
				"method", r.Method,
				"path", security.SanitizeForLog(r.URL.Path),
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// MaxBytes limits request bodies to n bytes. n <= 0 disables the limit.
func MaxBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
