package middleware

import (
	"fmt"
	"net/http"

	"github.com/benvon/smart-tagger/internal/request"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
)

// DefaultAPIRate is the per-client request rate for the API
const DefaultAPIRate = "20-S"

// RateLimit limits requests per client IP. store is shared with the storage
// throttle so both work on one Redis when configured.
func RateLimit(store limiter.Store, rate string) (func(http.Handler) http.Handler, error) {
	if rate == "" {
		rate = DefaultAPIRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid api rate %q: %w", rate, err)
	}

	instance := limiter.New(store, parsed)
	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(func(r *http.Request) string {
			return "api:" + request.ClientIP(r)
		}),
		stdlibmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests", nil)
		}),
	)
	return mw.Handler, nil
}
