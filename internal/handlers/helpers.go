package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benvon/smart-tagger/internal/validation"
)

const maxErrorMessageLength = 200

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sanitizeErrorMessage truncates messages so internal detail is not echoed in full
func sanitizeErrorMessage(message string) string {
	if len(message) > maxErrorMessageLength {
		return message[:maxErrorMessageLength] + "..."
	}
	return message
}

// respondJSONError sends an error JSON response with sanitized error messages
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   sanitizeErrorMessage(message),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// On failure the error response has been written and false is returned.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			respondJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
		case errors.Is(err, io.EOF):
			respondJSONError(w, http.StatusBadRequest, "bad_request", "Request body is required")
		default:
			respondJSONError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		}
		return false
	}

	if err := validation.Validate.Struct(dst); err != nil {
		respondJSONError(w, http.StatusBadRequest, "validation_failed", validation.ErrorMessage(err))
		return false
	}
	return true
}
