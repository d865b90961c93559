package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// ClientRole is the role carried by an API client's token.
type ClientRole string

const (
	// RoleAdmin manages rules, templates and reads executions.
	RoleAdmin ClientRole = "admin"
	// RoleService may only submit triggers.
	RoleService ClientRole = "service"
)

// Valid reports whether r is a known role.
func (r ClientRole) Valid() bool {
	return r == RoleAdmin || r == RoleService
}

// RoleAtLeast reports whether r has at least minRole's privileges.
func RoleAtLeast(r, minRole ClientRole) bool {
	rank := func(r ClientRole) int {
		switch r {
		case RoleAdmin:
			return 2
		case RoleService:
			return 1
		default:
			return 0
		}
	}
	return rank(r) >= rank(minRole)
}

// APIClient is a machine caller of the API (a platform backend or an operator).
type APIClient struct {
	ID         uuid.UUID  `json:"id"`
	ClientID   string     `json:"client_id"`
	Name       string     `json:"name"`
	Role       ClientRole `json:"role"`
	APIKeyHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,99}$`)

// ValidateClientID checks the client identifier format.
func ValidateClientID(id string) error {
	if !clientIDPattern.MatchString(id) {
		return &ValidationError{Field: "client_id", Message: fmt.Sprintf("%q must be 1-100 characters of letters, digits, '.', '_', '@' or '-'", id)}
	}
	return nil
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// CreateClientRequest is the request body for POST /v1/clients.
type CreateClientRequest struct {
	ClientID string     `json:"client_id"`
	Name     string     `json:"name"`
	Role     ClientRole `json:"role"`
	APIKey   string     `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
