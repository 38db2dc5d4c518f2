// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package retry provides a bounded exponential-backoff retry combinator.
//
// The combinator takes an operation, a predicate deciding which errors are
// transient, and a backoff schedule. Time is read through a Clock so tests can
// run the full schedule without sleeping.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Clock abstracts waiting so schedules are deterministic under test.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// SystemClock waits on the wall clock.
type SystemClock struct{}

// After implements Clock.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Policy is a bounded exponential backoff schedule.
type Policy struct {
	// MaxAttempts caps the total number of calls, including the first.
	MaxAttempts int
	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration
	// MaxBackoff caps any single wait.
	MaxBackoff time.Duration
	// Multiplier grows the wait between attempts. Values below 1 mean 2.
	Multiplier float64
	// Jitter draws each wait uniformly from [0, backoff] when set.
	Jitter bool
}

// DefaultPolicy returns the schedule used for cloud transport calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// Backoff returns the wait before retry number n (n=1 is the first retry),
// without jitter.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}

	// Past ~60 doublings the float overflows a Duration anyway
	if n > 60 {
		return maxBackoff
	}
	backoff := time.Duration(float64(p.InitialBackoff) * math.Pow(mult, float64(n-1)))
	if backoff <= 0 || backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Retrier runs operations under a Policy.
type Retrier struct {
	Policy Policy
	Clock  Clock
	// Retriable decides whether an error is worth another attempt.
	// A nil predicate retries nothing.
	Retriable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do runs op until it succeeds, fails with a non-retriable error, exhausts
// MaxAttempts, or ctx is done. The final error wraps the last cause.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	maxAttempts := r.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clock := r.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if r.Retriable == nil || !r.Retriable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		wait := r.Policy.Backoff(attempt)
		if r.Policy.Jitter && wait > 0 {
			wait = time.Duration(rand.Int64N(int64(wait) + 1))
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr, wait)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-clock.After(wait):
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

// Do is a convenience wrapper around Retrier.Do.
func Do(ctx context.Context, p Policy, clock Clock, retriable func(error) bool, op Operation) error {
	r := &Retrier{Policy: p, Clock: clock, Retriable: retriable}
	return r.Do(ctx, op)
}

// RecordingClock never sleeps and remembers every requested wait.
// It is safe for concurrent use.
type RecordingClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

// After implements Clock.
func (c *RecordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// Waits returns a copy of the recorded waits.
func (c *RecordingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}
