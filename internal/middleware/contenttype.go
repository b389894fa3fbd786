package middleware

import (
	"net/http"
	"strings"
)

// ContentType requires application/json on requests that carry a body.
// Bodiless POSTs such as reset are let through.
func ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength > 0 || (r.ContentLength < 0 && r.Body != nil && r.Body != http.NoBody)
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) {
			contentType := strings.ToLower(r.Header.Get("Content-Type"))
			if !strings.HasPrefix(contentType, "application/json") {
				writeError(w, r, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json", nil)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
