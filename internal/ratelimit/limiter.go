// Package ratelimit provides per-source token buckets for outbound calls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixir/research-integrator/internal/domain"
)

// Profile is a sustained rate with a burst allowance.
type Profile struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultProfile is used for tags that were never configured.
var DefaultProfile = Profile{RequestsPerSecond: 1, Burst: 1}

func (p Profile) normalized() Profile {
	if p.RequestsPerSecond <= 0 {
		p.RequestsPerSecond = DefaultProfile.RequestsPerSecond
	}
	if p.Burst <= 0 {
		p.Burst = 1
	}
	return p
}

// Limiter owns one token bucket per tag. Buckets are created lazily with the
// default profile and can be configured up front with Configure.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	defaults Profile
}

// New creates a Limiter whose unconfigured tags use defaults.
func New(defaults Profile) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		defaults: defaults.normalized(),
	}
}

// Configure sets (or replaces) the profile for tag, preserving any existing
// bucket so that outstanding reservations stay valid.
func (l *Limiter) Configure(tag string, p Profile) {
	p = p.normalized()

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[tag]; ok {
		b.SetLimit(rate.Limit(p.RequestsPerSecond))
		b.SetBurst(p.Burst)
		return
	}
	l.buckets[tag] = rate.NewLimiter(rate.Limit(p.RequestsPerSecond), p.Burst)
}

func (l *Limiter) bucket(tag string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[tag]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.defaults.RequestsPerSecond), l.defaults.Burst)
		l.buckets[tag] = b
	}
	return b
}

// Acquire takes one token for tag, waiting if necessary.
//
// Reservations are handed out in arrival order, so concurrent waiters are
// served FIFO. If the reserved slot lies beyond the context deadline, or the
// deadline passes while waiting, the reservation is returned to the bucket and
// domain.ErrRateLimitTimeout is returned. Plain cancellation returns ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return l.waitError(tag, err)
	}

	r := l.bucket(tag).Reserve()
	if !r.OK() {
		return fmt.Errorf("%s: %w", tag, domain.ErrRateLimitTimeout)
	}

	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
		r.Cancel()
		return fmt.Errorf("%s: token available in %s, after deadline: %w", tag, delay, domain.ErrRateLimitTimeout)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return l.waitError(tag, ctx.Err())
	}
}

func (l *Limiter) waitError(tag string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", tag, domain.ErrRateLimitTimeout, err)
	}
	return err
}

// Allow consumes a token for tag if one is available right now.
func (l *Limiter) Allow(tag string) bool {
	return l.bucket(tag).Allow()
}

// Tokens returns the number of tokens currently available for tag.
// This can be useful for monitoring and debugging.
func (l *Limiter) Tokens(tag string) float64 {
	return l.bucket(tag).Tokens()
}

// Profile returns the current profile of tag.
func (l *Limiter) Profile(tag string) Profile {
	b := l.bucket(tag)
	return Profile{RequestsPerSecond: float64(b.Limit()), Burst: b.Burst()}
}
