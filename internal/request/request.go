// Package request holds per-request helpers shared by middleware and handlers.
package request

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// HeaderRequestID carries the request id in and out of the API
const HeaderRequestID = "X-Request-ID"

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For
// and X-Real-IP. The port is dropped from RemoteAddr so one client maps to one key.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// EnsureID returns the caller supplied request id, or a new one when the
// header is missing or not a uuid.
func EnsureID(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get(HeaderRequestID)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// WithID returns a context carrying the request id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// IDFromContext returns the request id, or "" when none was set.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
