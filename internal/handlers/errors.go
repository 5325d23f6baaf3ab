// Package handlers adapts the pipeline services to HTTP and CloudEvent function signatures.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/tenantocrflow/internal/gcp"
	"github.com/Lllllllleong/tenantocrflow/internal/services"
)

const (
	HeaderTenantID      = "x-tenant-id"
	HeaderRequestID     = "x-request-id"
	HeaderRequestStatus = "x-request-status"
)

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnavailable), gcp.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		http.Error(w, err.Error(), status)
	case http.StatusNotFound:
		w.WriteHeader(status)
	default:
		// Internal causes stay in the logs.
		http.Error(w, http.StatusText(status), status)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
