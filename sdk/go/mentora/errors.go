// Package mentora provides a Go client for the Mentora automation API.
package mentora

import (
	"errors"
	"fmt"
)

// Error represents an error from the Mentora API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mentora: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func hasStatus(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return hasStatus(err, 404) }

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return hasStatus(err, 401) }

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool { return hasStatus(err, 403) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return hasStatus(err, 429) }

// IsConflict returns true if the error is a 409. For triggers this means a
// request with the same idempotency key is still being processed.
func IsConflict(err error) bool { return hasStatus(err, 409) }
