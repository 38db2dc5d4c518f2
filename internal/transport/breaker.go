// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"hash"
	"io"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/metrics"
	"github.com/tomtom215/signalwatch/internal/models"
)

func breakerName(provider string) string { return "transport-" + provider }

// newBreaker opens after maxFailures consecutive transient failures and
// probes again after openTimeout. Permanent errors (auth, not found) say
// nothing about provider health and do not count.
func newBreaker(provider string, maxFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker[struct{}] {
	name := breakerName(provider)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= maxFailures
			if trip {
				logging.Warn().
					Str("provider", provider).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !models.IsRetriable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// maxUploadBurst bounds a single limiter reservation.
const maxUploadBurst = 256 << 10

func newUploadLimiter(bytesPerSec int64) *rate.Limiter {
	burst := int(min(bytesPerSec, maxUploadBurst))
	return rate.NewLimiter(rate.Limit(bytesPerSec), max(burst, 1))
}

// limitedReader throttles reads to a shared byte rate. Seek passes through
// so SDKs can rewind the body between signing and sending.
type limitedReader struct {
	ctx context.Context
	r   io.ReadSeeker
	lim *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.lim.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.lim.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (l *limitedReader) Seek(offset int64, whence int) (int64, error) {
	return l.r.Seek(offset, whence)
}

// digestBody hashes body from the start and rewinds it. A throttled body is
// hashed through its underlying file so only bytes sent over the network are
// charged to the upload limiter.
func digestBody(h hash.Hash, body io.ReadSeeker) error {
	src := body
	if l, ok := body.(*limitedReader); ok {
		src = l.r
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(h, src); err != nil {
		return err
	}
	_, err := src.Seek(0, io.SeekStart)
	return err
}
