package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/smart-tagger/internal/request"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		path          string
		handlerStatus int
		wantLevel     zapcore.Level
	}{
		{name: "GET request", method: "GET", path: "/api/v1/assets", handlerStatus: http.StatusOK, wantLevel: zapcore.InfoLevel},
		{name: "POST request", method: "POST", path: "/api/v1/sync/save", handlerStatus: http.StatusAccepted, wantLevel: zapcore.InfoLevel},
		{name: "404 request", method: "GET", path: "/notfound", handlerStatus: http.StatusNotFound, wantLevel: zapcore.InfoLevel},
		{name: "500 request", method: "GET", path: "/broken", handlerStatus: http.StatusInternalServerError, wantLevel: zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.handlerStatus)
				_, _ = w.Write([]byte("body"))
			})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			Logging(zap.New(core))(handler).ServeHTTP(w, req)

			if w.Code != tt.handlerStatus {
				t.Errorf("Expected status %d, got %d", tt.handlerStatus, w.Code)
			}
			entries := logs.FilterMessage("http_request").All()
			if len(entries) != 1 {
				t.Fatalf("Expected one http_request entry, got %d", len(entries))
			}
			entry := entries[0]
			if entry.Level != tt.wantLevel {
				t.Errorf("Expected level %s, got %s", tt.wantLevel, entry.Level)
			}
			fields := entry.ContextMap()
			if fields["status_code"] != int64(tt.handlerStatus) {
				t.Errorf("Expected logged status %d, got %v", tt.handlerStatus, fields["status_code"])
			}
			if fields["bytes"] != int64(4) {
				t.Errorf("Expected 4 bytes logged, got %v", fields["bytes"])
			}
		})
	}
}

func TestLoggingResponseWriter_FirstStatusWins(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	Logging(zap.New(core))(handler).ServeHTTP(httptest.NewRecorder(), req)

	fields := logs.All()[0].ContextMap()
	if fields["status_code"] != int64(http.StatusOK) {
		t.Errorf("Expected status 200 after implicit write, got %v", fields["status_code"])
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = request.IDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("Expected a uuid in context, got %q", seen)
	}
	if got := w.Header().Get(request.HeaderRequestID); got != seen {
		t.Errorf("Expected header %s, got %s", seen, got)
	}

	supplied := uuid.NewString()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(request.HeaderRequestID, supplied)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != supplied {
		t.Errorf("Expected supplied id %s to be kept, got %s", supplied, seen)
	}
}
