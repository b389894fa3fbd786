package middleware

import (
	"net/http"
)

// DefaultMaxRequestSize bounds request bodies. Tag edits are small.
const DefaultMaxRequestSize int64 = 64 << 10

// MaxRequestSize rejects declared oversize bodies up front and caps the rest
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large", nil)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
