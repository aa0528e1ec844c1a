package auth

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError represents a classified session/authentication failure.
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Error classes. Credential and provider errors propagate to the caller;
// decode and storage failures are normalized to absent results and never
// surface as errors.
const (
	ErrTypeCredential    = "INVALID_CREDENTIALS"
	ErrTypeProvider      = "PROVIDER_ERROR"
	ErrTypeAuthRejected  = "AUTH_REJECTED"
	ErrTypeCommunication = "COMMUNICATION_ERROR"
	ErrTypeResourceGone  = "RESOURCE_GONE"
	ErrTypeNoToken       = "NO_TOKEN"
)

// Common auth errors
var (
	ErrInvalidCredentials = &AuthError{ErrTypeCredential, "Invalid email or password", 401}
	ErrNoToken            = &AuthError{ErrTypeNoToken, "No usable token for this request", 401}
	ErrMalformedToken     = &AuthError{ErrTypeProvider, "Login response did not contain a valid token", 502}
)

// NewAuthError creates a classified error.
func NewAuthError(errorType, message string, code int) *AuthError {
	return &AuthError{
		Type:    errorType,
		Message: message,
		Code:    code,
	}
}

// NewProviderError wraps a non-credential failure from an upstream
// service, keeping the HTTP status for diagnostics.
func NewProviderError(status int, detail string) *AuthError {
	return &AuthError{
		Type:    ErrTypeProvider,
		Message: fmt.Sprintf("Provider request failed with status %d: %s", status, detail),
		Code:    status,
	}
}

// NewAuthRejectedError wraps a 401/403 (or token-related) rejection of an
// authenticated call. It deliberately does not imply the session was
// destroyed; the caller decides what to do.
func NewAuthRejectedError(status int, detail string) *AuthError {
	return &AuthError{
		Type:    ErrTypeAuthRejected,
		Message: fmt.Sprintf("Authentication was rejected (%s); please sign in again if the problem persists", detail),
		Code:    status,
	}
}

// NewCommunicationError wraps timeouts and transport failures, distinct
// from auth rejection.
func NewCommunicationError(detail string) *AuthError {
	return &AuthError{
		Type:    ErrTypeCommunication,
		Message: "Could not reach the server: " + detail,
		Code:    504,
	}
}

// ErrResourceGone is the fixed classification for HTTP 410; the UI shows
// its message verbatim.
var ErrResourceGone = &AuthError{ErrTypeResourceGone, "The requested resource is no longer available", 410}

// IsCredentialError reports whether err is a bad-credentials failure.
func IsCredentialError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Type == ErrTypeCredential
}

// IsAuthRejected reports whether err is a classified auth rejection of
// an authenticated call.
func IsAuthRejected(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Type == ErrTypeAuthRejected
}

// LooksAuthRelated reports whether a response message indicates an
// authentication problem regardless of its HTTP status.
func LooksAuthRelated(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "token") || strings.Contains(lower, "unauthorized")
}
