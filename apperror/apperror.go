// Package apperror defines the error taxonomy shared by the fanout engine,
// the signaling relay and the REST controllers. Callers classify failures
// with errors.Is and the sentinels below; Code turns any error into the wire
// string carried in socket acks.
package apperror

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrForbidden indicates the authorization gate rejected the request.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the conversation or identity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a malformed payload or slug.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a duplicate slug or a lost direct-chat race.
	ErrConflict = errors.New("conflict")
	// ErrRetryable indicates a transient persistence failure. The service
	// performs no automatic retry; the caller decides.
	ErrRetryable = errors.New("retryable")
)

// Code maps an error to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRetryable):
		return "retryable"
	default:
		return "internal"
	}
}

// Status maps an error to the HTTP status used by the REST surface.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
