package middleware

import (
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a single API call. Batch runs are started in
// the background and are not subject to it.
const DefaultRequestTimeout = 30 * time.Second

const timeoutBody = `{"success":false,"error":"timeout","message":"Request timed out"}`

// Timeout cancels the request context and answers 503 once timeout elapses
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
