package handler

// RESPONSE HELPERS:
// Every JSON answer goes through writeJSON and every error through
// writeError, so all error bodies share one shape:
//
//	{"error": "validation_error", "message": "Password mismatch.", "field": "password_repeat"}
//
// Browser-facing flows (login, Google callback) answer with redirects and a
// flash message instead; see flash.go.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/mineshare/internal/apperror"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input field, if any
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status go out before the body; changes after the first Write
// are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to its HTTP status and error type.
//
// errors.Is walks the wrap chain, so a service error like
// fmt.Errorf("...: %w", apperror.InvalidToken()) still maps to 400.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrInvalidToken):
		return http.StatusBadRequest, "invalid_token"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrUnconfirmed):
		return http.StatusForbidden, "unconfirmed"
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

// writeError maps a domain error to the appropriate HTTP response.
//
// Anything that is not an *apperror.AppError is an infrastructure failure:
// it is logged and answered with a generic 500. Raw error text can contain
// SQL or hostnames and never reaches the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	writeErrorStatus(w, logger, err, 0)
}

// writeErrorStatus is writeError with a status override for domain errors.
// POST /register, for instance, answers a duplicate email with 400 rather
// than 409. A zero status keeps the default mapping.
func writeErrorStatus(w http.ResponseWriter, logger *slog.Logger, err error, status int) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		defStatus, errorType := statusFor(err)
		if status == 0 {
			status = defStatus
		}
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	logger.Error("request failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// writeValidationError answers a DTO that failed decoding or validation.
func writeValidationError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadBody) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request body",
		})
		return
	}

	field, message := validationMessage(err)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: message,
		Field:   field,
	})
}
