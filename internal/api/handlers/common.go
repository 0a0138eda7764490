// Package handlers provides HTTP request handlers for the farmscan API.
// This file contains the response and request helpers shared by all
// handlers.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/farmscan/internal/api/middleware"
	"github.com/anstrom/farmscan/internal/errors"
)

// DefaultMaxRequestSize bounds request bodies when no limit is configured.
const DefaultMaxRequestSize = 1024 * 1024

// retryAfterSeconds is sent with errors a client may retry.
const retryAfterSeconds = "1"

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// getRequestIDFromContext extracts the request ID set by the logging
// middleware.
func getRequestIDFromContext(ctx context.Context) string {
	return middleware.RequestIDFromContext(ctx)
}

// extractIDFromPath extracts the task id path parameter.
func extractIDFromPath(r *http.Request) (string, error) {
	idStr, exists := mux.Vars(r)["id"]
	if !exists {
		return "", fmt.Errorf("id not provided")
	}

	if strings.TrimSpace(idStr) == "" {
		return "", fmt.Errorf("id cannot be empty")
	}

	return idStr, nil
}

// Response utilities

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but don't try to write another response
		slog.Error("Failed to encode JSON response",
			"request_id", getRequestIDFromContext(r.Context()),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: getRequestIDFromContext(r.Context()),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}
	if errors.IsRetryable(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	writeJSON(w, r, statusCode, response)
}

// statusForError maps engine error codes to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.IsNotRunning(err):
		return http.StatusServiceUnavailable
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCode(err, errors.CodeTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with the status its code maps to. Unexpected
// errors are logged.
func writeEngineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, operation string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(fmt.Sprintf("Failed to %s", operation),
			"request_id", getRequestIDFromContext(r.Context()),
			"error", err)
	}
	writeError(w, r, status, err)
}

// Request parsing utilities

// parseJSON parses the JSON request body into dest. Unknown fields are
// rejected and the body is limited to maxSize bytes.
func parseJSON(w http.ResponseWriter, r *http.Request, dest interface{}, maxSize int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("request body is empty")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large (max %d bytes)", maxSize)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON: unexpected data after body")
	}

	return nil
}
