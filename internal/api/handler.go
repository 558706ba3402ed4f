// Package api provides HTTP handlers for the session broker API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
)

// maxRequestBodySize bounds JSON request bodies (1MB).
const maxRequestBodySize = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// WriteDomainError maps domain errors onto HTTP statuses: unknown session
// ids become 404, validation failures 400, and anything else (including an
// unreachable store) 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "Session not found")
	case domain.IsValidation(err):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// DecodeBody decodes a bounded JSON request body into v.
func DecodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return nil
}
