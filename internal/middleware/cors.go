package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// DefaultFrontendOrigin is allowed when no origins are configured
const DefaultFrontendOrigin = "http://localhost:3000"

// AllowedOrigins splits a comma-separated origin list, dropping blanks and repeats
func AllowedOrigins(list string) []string {
	var origins []string
	seen := make(map[string]struct{})
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = []string{DefaultFrontendOrigin}
	}
	return origins
}

// CORS answers preflight requests and sets CORS headers for the tag editor frontend
func CORS(frontendURL string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   AllowedOrigins(frontendURL),
		AllowCredentials: true,
		MaxAge:           86400,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
	})
	return c.Handler
}
