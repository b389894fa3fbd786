package middleware

import (
	"net/http"
	"time"

	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/request"
	"go.uber.org/zap"
)

// RequestID tags every request with an id, echoed in the response header
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := request.EnsureID(r)
		w.Header().Set(request.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(request.WithID(r.Context(), id)))
	})
}

// Logging creates logging middleware
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int("bytes", wrapped.bytes),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("client_ip", request.ClientIP(r)),
				zap.String("request_id", request.IDFromContext(r.Context())),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Warn("http_request", fields...)
				return
			}
			logger.Info("http_request", fields...)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
