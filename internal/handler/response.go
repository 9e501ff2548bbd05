package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ENVELOPES:
// Every response from the API has one of two shapes:
//
//	{"statusCode": 200, "data": {...}, "message": "...", "success": true}
//	{"statusCode": 409, "error": "conflict", "message": "...", "success": false}
//
// The frontend checks `success` first and never has to guess the shape.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/videotube/internal/apperror"
)

// APIResponse is the success envelope.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorResponse is the error envelope returned by all API endpoints.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`           // machine-readable type, e.g. "not_found"
	Message    string `json:"message"`         // human-readable description
	Field      string `json:"field,omitempty"` // offending input field for validation errors
	Success    bool   `json:"success"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// calls w.Write(), later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeSuccess wraps data in the success envelope.
func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

// writeError maps a domain error to an HTTP status and sends the error envelope.
//
// ERROR MAPPING:
// The service layer returns *apperror.AppError values wrapping one of the
// sentinels. errors.Is walks the chain to find the sentinel:
//
//	ErrValidation   → 400
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	anything else   → 500
//
// Unknown errors are logged with their full chain but the client only ever
// sees a generic message: raw errors can carry SQL, paths or other internals.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Error:      "internal_error",
			Message:    "An internal error occurred",
		})
		return
	}

	status, errorType := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("internal error", slog.String("error", err.Error()))
	}

	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errorType,
		Message:    appErr.Message,
		Field:      appErr.Field,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// NotFound is the router's fallback for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperror.NotFound("route", r.Method+" "+r.URL.Path))
}

// MethodNotAllowed is the router's fallback for a known path with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		StatusCode: http.StatusMethodNotAllowed,
		Error:      "method_not_allowed",
		Message:    r.Method + " is not allowed on " + r.URL.Path,
	})
}
