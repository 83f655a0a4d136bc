// Package resilience wraps outbound calls with rate limiting, per-call
// deadlines and retry with exponential backoff.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
)

// Policy configures retries for one class of upstream.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry; it doubles per retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff before jitter is added.
	MaxDelay time.Duration

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
}

// DefaultSourcePolicy is the retry policy for paper source adapters.
func DefaultSourcePolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// DefaultLLMPolicy is the retry policy for the summarization backend: fewer
// attempts, each allowed to run much longer.
func DefaultLLMPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultSourcePolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultSourcePolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	return p
}

// Backoff returns the un-jittered delay before retry n (n >= 1):
// min(BaseDelay * 2^(n-1), MaxDelay).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ErrorCategory classifies errors for the retry loop.
type ErrorCategory int

const (
	// Retryable errors are temporary failures that should be retried with
	// exponential backoff (rate limits, 5xx, transport failures, timeouts).
	Retryable ErrorCategory = iota

	// Fatal errors are non-recoverable and are returned immediately.
	Fatal
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Caller cancellation and Permanent errors - Fatal
//  2. Rejections (invalid query, not found, invalid input, unauthorized) - Fatal
//  3. Everything else, including rate limiting, unavailability and
//     timeouts - Retryable
func Classify(err error) ErrorCategory {
	if err == nil {
		return Fatal
	}

	if errors.Is(err, context.Canceled) {
		return Fatal
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return Fatal
	}

	if errors.Is(err, domain.ErrSourceInvalidQuery) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrUnauthorized) {
		return Fatal
	}

	// Rate limiting, unavailability, timeouts and anything unrecognised.
	return Retryable
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable regardless of what it wraps. It
// returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
