package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/ratelimit"
)

// Call outcomes reported to the Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
)

// Recorder receives per-attempt telemetry. observability.Metrics implements it.
type Recorder interface {
	RecordUpstreamCall(tag, outcome string, duration time.Duration)
	RecordUpstreamRetry(tag string)
	RecordRateLimitWait(tag string, wait time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamCall(string, string, time.Duration) {}
func (nopRecorder) RecordUpstreamRetry(string)                       {}
func (nopRecorder) RecordRateLimitWait(string, time.Duration)        {}

// Executor runs upstream calls under a rate limiter, a per-attempt deadline
// and the retry policy. It is safe for concurrent use.
type Executor struct {
	limiter  *ratelimit.Limiter
	policy   Policy
	recorder Recorder
	logger   zerolog.Logger
	jitter   func(d time.Duration) time.Duration
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithJitter replaces the jitter source. fn receives the backoff d and must
// return a value in [0, d].
func WithJitter(fn func(d time.Duration) time.Duration) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.jitter = fn
		}
	}
}

// NewExecutor creates an Executor. A nil limiter disables rate limiting.
func NewExecutor(limiter *ratelimit.Limiter, policy Policy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		limiter:  limiter,
		policy:   policy.withDefaults(),
		recorder: nopRecorder{},
		logger:   zerolog.Nop(),
		jitter:   uniformJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective retry policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

func uniformJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d + 1)
}

// Do runs fn for the upstream identified by tag.
//
// Every attempt first takes a token from the tag's bucket, then runs with its
// own CallTimeout. A per-attempt timeout counts as domain.ErrSourceUnavailable.
// Fatal errors are returned as-is; when attempts run out the result is a
// *domain.UpstreamExhaustedError carrying the last error. Cancellation of ctx
// stops the loop at the next limiter wait, call or backoff sleep.
func (e *Executor) Do(ctx context.Context, tag string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return abortError(lastErr, err)
		}

		if e.limiter != nil {
			waitStart := time.Now()
			if err := e.limiter.Acquire(ctx, tag); err != nil {
				e.recorder.RecordRateLimitWait(tag, time.Since(waitStart))
				return abortError(lastErr, err)
			}
			e.recorder.RecordRateLimitWait(tag, time.Since(waitStart))
		}

		err := e.attempt(ctx, tag, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return abortError(lastErr, ctx.Err())
		}

		if Classify(err) == Fatal {
			return err
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.retryDelay(attempt, err)
		e.recorder.RecordUpstreamRetry(tag)
		e.logger.Debug().
			Str("upstream", tag).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying upstream call")

		if err := sleep(ctx, delay); err != nil {
			return abortError(lastErr, err)
		}
	}

	e.logger.Warn().
		Str("upstream", tag).
		Int("attempts", e.policy.MaxAttempts).
		Err(lastErr).
		Msg("upstream retries exhausted")

	return &domain.UpstreamExhaustedError{
		Source:   tag,
		Attempts: e.policy.MaxAttempts,
		LastErr:  lastErr,
	}
}

func (e *Executor) attempt(ctx context.Context, tag string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	duration := time.Since(start)

	// A timeout of this attempt alone (parent still live) is an unavailable upstream.
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrSourceUnavailable) {
		err = domain.NewSourceError(domain.SourceType(tag), domain.ErrSourceUnavailable, 0, "call timed out", err)
	}

	switch {
	case err == nil:
		e.recorder.RecordUpstreamCall(tag, OutcomeSuccess, duration)
	case Classify(err) == Fatal:
		e.recorder.RecordUpstreamCall(tag, OutcomeFatal, duration)
	default:
		e.recorder.RecordUpstreamCall(tag, OutcomeRetryable, duration)
	}
	return err
}

// retryDelay computes d + U[0, d] for retry n. A Retry-After hint from the
// upstream raises the delay, bounded by MaxDelay.
func (e *Executor) retryDelay(n int, err error) time.Duration {
	d := e.policy.Backoff(n)
	delay := d + e.jitter(d)

	var srcErr *domain.SourceError
	if errors.As(err, &srcErr) && srcErr.RetryAfter > delay {
		delay = min(srcErr.RetryAfter, e.policy.MaxDelay)
		if delay < d {
			delay = d
		}
	}
	return delay
}

// abortError reports that the loop stopped early, keeping the last upstream
// error in the chain when there was one.
func abortError(lastErr, cause error) error {
	if lastErr == nil {
		return cause
	}
	return fmt.Errorf("%w (retry aborted: %w)", lastErr, cause)
}

// sleep waits for d, respecting context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
