package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrPaperNotFound indicates that a paper id resolved to nothing upstream.
	ErrPaperNotFound = fmt.Errorf("paper %w", ErrNotFound)

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates that the request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSourceInvalidQuery indicates that a source rejected the query as malformed.
	ErrSourceInvalidQuery = errors.New("source rejected query")

	// ErrSourceRateLimited indicates that a source answered with a rate-limit response.
	ErrSourceRateLimited = errors.New("source rate limited")

	// ErrRateLimitTimeout indicates that a local rate-limit token could not be
	// obtained before the caller's deadline.
	ErrRateLimitTimeout = errors.New("rate limit wait timed out")

	// ErrSourceUnavailable indicates a transport failure, 5xx or per-call timeout.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrUpstreamExhausted indicates that every retry attempt failed.
	ErrUpstreamExhausted = errors.New("upstream retries exhausted")

	// ErrAggregationFailed indicates that every requested source failed.
	ErrAggregationFailed = errors.New("aggregation failed")

	// ErrFetchFailed indicates that none of the requested papers could be resolved.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrSummarizationUnavailable indicates that the LLM backend could not produce a summary.
	ErrSummarizationUnavailable = errors.New("summarization unavailable")

	// ErrCacheComputeFailed indicates that a cache fill computation failed.
	ErrCacheComputeFailed = errors.New("cache computation failed")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	if e.Entity == "paper" {
		return ErrPaperNotFound
	}
	return ErrNotFound
}

// SourceError is a provider failure translated into the source error taxonomy.
// Kind is one of ErrSourceInvalidQuery, ErrSourceRateLimited or ErrSourceUnavailable.
type SourceError struct {
	Source     SourceType
	Kind       error
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Source, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *SourceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// UpstreamExhaustedError reports the final failure after all retry attempts.
type UpstreamExhaustedError struct {
	Source   string
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *UpstreamExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Source, e.Attempts, e.LastErr)
}

// Unwrap exposes the sentinel and the last attempt's error.
func (e *UpstreamExhaustedError) Unwrap() []error {
	return []error{ErrUpstreamExhausted, e.LastErr}
}

// AggregationError reports that every source of a search failed.
type AggregationError struct {
	Failures []SourceFailure
	Errs     []error
}

// Error implements the error interface.
func (e *AggregationError) Error() string {
	return fmt.Sprintf("all %d sources failed", len(e.Failures))
}

// Unwrap exposes the sentinel and each source's error.
func (e *AggregationError) Unwrap() []error {
	return append([]error{ErrAggregationFailed}, e.Errs...)
}

// MissingPaper describes a requested id that could not be resolved.
type MissingPaper struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Missing-paper reasons.
const (
	MissingReasonNotFound      = "not_found"
	MissingReasonUnavailable   = "unavailable"
	MissingReasonUnknownSource = "unknown_source"
)

// FetchError reports that none of the requested ids could be resolved.
type FetchError struct {
	Missing []MissingPaper
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("none of %d requested papers could be fetched", len(e.Missing))
}

// AllNotFound reports whether every missing id was missing upstream, rather
// than unreachable.
func (e *FetchError) AllNotFound() bool {
	for _, m := range e.Missing {
		if m.Reason != MissingReasonNotFound {
			return false
		}
	}
	return len(e.Missing) > 0
}

// Unwrap exposes ErrFetchFailed, plus ErrPaperNotFound when every id was absent.
func (e *FetchError) Unwrap() []error {
	if e.AllNotFound() {
		return []error{ErrFetchFailed, ErrPaperNotFound}
	}
	return []error{ErrFetchFailed}
}

// FailureReason maps an error to the stable reason code reported in
// degraded search results and missing-paper lists.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPaperNotFound), errors.Is(err, ErrNotFound):
		return MissingReasonNotFound
	case errors.Is(err, ErrSourceInvalidQuery):
		return "invalid_query"
	case errors.Is(err, ErrRateLimitTimeout), errors.Is(err, ErrSourceRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrUpstreamExhausted):
		return MissingReasonUnavailable
	default:
		return "error"
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewSourceError creates a new SourceError.
func NewSourceError(source SourceType, kind error, statusCode int, message string, cause error) *SourceError {
	return &SourceError{
		Source:     source,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}
