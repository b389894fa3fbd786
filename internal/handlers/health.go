package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 5 * time.Second

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthChecker handles health check requests
type HealthChecker struct {
	checks map[string]CheckFunc
}

// NewHealthChecker creates a health checker. Nil checks are skipped, so
// optional dependencies can be passed unconditionally.
func NewHealthChecker(checks map[string]CheckFunc) *HealthChecker {
	active := make(map[string]CheckFunc, len(checks))
	for name, check := range checks {
		if check != nil {
			active[name] = check
		}
	}
	return &HealthChecker{checks: active}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles /healthz. ?mode=extended probes every dependency.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if r.URL.Query().Get("mode") == "extended" {
		response.Checks = make(map[string]string, len(h.checks))
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := h.checks[name](ctx)
			cancel()
			if err != nil {
				response.Status = "unhealthy"
				response.Checks[name] = "unhealthy: " + sanitizeErrorMessage(err.Error())
				continue
			}
			response.Checks[name] = "healthy"
		}
		if response.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
