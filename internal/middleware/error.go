package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/request"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ErrorResponse is the body middleware writes when it rejects or aborts a
// request. It shares success/error/message with the handler envelope.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	AssetID   string `json:"asset_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler turns a panicking handler into a 500. When the handler
// already started its response only the log entry is written.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				fields := []zap.Field{
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
					zap.String("request_id", request.IDFromContext(r.Context())),
					zap.Stack("stack"),
				}
				if id := routeAssetID(r); id != "" {
					fields = append(fields, zap.String("asset_id", logpkg.SanitizeAssetID(id)))
				}
				if rw.wroteHeader {
					logger.Error("panic_after_response", append(fields, zap.Int("status_code", rw.statusCode))...)
					return
				}
				logger.Error("panic_recovered", fields...)
				writeError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred", logger)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// routeAssetID is the asset a matched asset route addresses, or "".
func routeAssetID(r *http.Request) string {
	vars := mux.Vars(r)
	if id := vars["id"]; id != "" {
		return id
	}
	return vars["target"]
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string, logger *zap.Logger) {
	body := ErrorResponse{
		Error:     kind,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
		AssetID:   routeAssetID(r),
		RequestID: request.IDFromContext(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && logger != nil {
		logger.Warn("error_response_encode_failed",
			zap.Int("status_code", status),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
			zap.Error(err),
		)
	}
}
