// Package apperror defines the typed errors shared by the service and
// handler layers.
//
// Services return these; handlers translate them to HTTP (status codes,
// flash messages, redirects). Anything that is NOT an *AppError is treated
// as an infrastructure failure and surfaces as a generic 500.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnconfirmed  = errors.New("account unconfirmed")
	ErrInvalidToken = errors.New("invalid token")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// DuplicateEmail is returned when a registration (or federated provisioning)
// collides with an existing email. The store's unique index is the final
// arbiter, so this can come from either the pre-check or the insert.
func DuplicateEmail(email string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("User %s already exists.", email),
		Field:   "email",
	}
}

// InvalidCredentials covers both "no such user" and "wrong password".
// The message is deliberately the same for both.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "Invalid email or password.",
	}
}

func AccountUnconfirmed() *AppError {
	return &AppError{
		Err:     ErrUnconfirmed,
		Message: "Email not confirmed. Please check your email for confirmation instructions.",
	}
}

func InvalidToken() *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: "Invalid token or user not found.",
	}
}
