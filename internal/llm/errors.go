package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned by Disabled.
	ErrNotConfigured = errors.New("llm provider not configured")

	// ErrEmptyResponse indicates that the provider answered without any text.
	ErrEmptyResponse = errors.New("llm returned an empty completion")
)

// APIError represents an error returned by an LLM provider API.
type APIError struct {
	// Provider is the name of the LLM provider (e.g., "openai", "anthropic").
	Provider string
	// StatusCode is the HTTP status code; 0 means no response was received.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient reports whether retrying may succeed: no response at all,
// rate limiting or a server error.
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsRateLimited reports whether the provider throttled the request.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying. Errors that are not
// *APIError are treated as transient unless they are configuration errors.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return true
}
