// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/metrics"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/retry"
)

// Operation names used in errors, logs and metrics.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpDelete = "delete"
)

// Provider is one object store. Put must confirm server-side that the stored
// object matches the local bytes before returning nil.
//
// Implementations return *models.TransportError with Retriable set for
// transient failures. Any other error is treated as permanent.
type Provider interface {
	Name() models.CloudProvider
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, checksum string) error
	Get(ctx context.Context, key string, w io.Writer) error
	Remove(ctx context.Context, key string) error
}

// Options tune retries, timeouts and resilience for every provider.
type Options struct {
	Prefix            string
	Retry             retry.Policy
	CallTimeout       time.Duration
	UploadBytesPerSec int64
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
	// Clock drives retry waits. Nil uses the wall clock.
	Clock retry.Clock
}

// OptionsFromConfig maps the transport configuration section.
func OptionsFromConfig(cfg *config.TransportConfig) Options {
	return Options{
		Prefix: cfg.Prefix,
		Retry: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Multiplier:     2,
			Jitter:         true,
		},
		CallTimeout:       cfg.CallTimeout,
		UploadBytesPerSec: cfg.UploadBytesPerSec,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerTimeout:    cfg.BreakerTimeout,
	}
}

// Transport moves artifacts between the local backup directory and the
// configured providers.
type Transport struct {
	opts      Options
	providers map[models.CloudProvider]Provider
	breakers  map[models.CloudProvider]*gobreaker.CircuitBreaker[struct{}]
	limiter   *rate.Limiter
}

// New builds a Transport over providers. Provider names must be unique.
func New(opts Options, providers ...Provider) (*Transport, error) {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	t := &Transport{
		opts:      opts,
		providers: make(map[models.CloudProvider]Provider, len(providers)),
		breakers:  make(map[models.CloudProvider]*gobreaker.CircuitBreaker[struct{}], len(providers)),
	}
	for _, p := range providers {
		name := p.Name()
		if _, dup := t.providers[name]; dup {
			return nil, fmt.Errorf("provider %s configured twice", name)
		}
		t.providers[name] = p
		t.breakers[name] = newBreaker(string(name), opts.BreakerFailures, opts.BreakerTimeout)
	}
	if opts.UploadBytesPerSec > 0 {
		t.limiter = newUploadLimiter(opts.UploadBytesPerSec)
	}
	return t, nil
}

// Providers returns the configured provider names, sorted.
func (t *Transport) Providers() []models.CloudProvider {
	out := make([]models.CloudProvider, 0, len(t.providers))
	for name := range t.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether provider is configured.
func (t *Transport) Has(provider models.CloudProvider) bool {
	_, ok := t.providers[provider]
	return ok
}

// Key returns the remote key for an artifact file name.
func (t *Transport) Key(artifactName string) string {
	return models.RemoteKey(t.opts.Prefix, artifactName)
}

func (t *Transport) provider(name models.CloudProvider) (Provider, error) {
	p, ok := t.providers[name]
	if !ok {
		return nil, &models.TransportError{Provider: name, Op: "resolve", Err: errors.New("provider not configured")}
	}
	return p, nil
}

// Upload copies localPath to provider under key and returns the remote key.
// checksum is the lowercase hex SHA-256 of the file.
func (t *Transport) Upload(ctx context.Context, localPath string, provider models.CloudProvider, key, checksum string) (string, error) {
	p, err := t.provider(provider)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", &models.TransportError{Provider: provider, Op: OpPut, Key: key, Err: err}
	}

	err = t.call(ctx, p, OpPut, key, func(ctx context.Context) error {
		f, err := os.Open(localPath) //nolint:gosec // G304: artifact path from the catalog
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // Read-only

		var body io.ReadSeeker = f
		if t.limiter != nil {
			body = &limitedReader{ctx: ctx, r: f, lim: t.limiter}
		}
		return p.Put(ctx, key, body, info.Size(), checksum)
	})
	if err != nil {
		return "", err
	}
	metrics.RecordTransportBytes(string(provider), "upload", info.Size())
	return key, nil
}

// Download fetches remoteKey from provider into localPath. The file appears
// atomically; a failed download leaves nothing behind.
func (t *Transport) Download(ctx context.Context, remoteKey string, provider models.CloudProvider, localPath string) error {
	p, err := t.provider(provider)
	if err != nil {
		return err
	}
	tmp := localPath + ".part"
	var written int64

	err = t.call(ctx, p, OpGet, remoteKey, func(ctx context.Context) error {
		f, err := os.Create(tmp) //nolint:gosec // G304: path inside the work directory
		if err != nil {
			return err
		}
		cw := &countingWriter{w: f}
		getErr := p.Get(ctx, remoteKey, cw)
		if getErr == nil {
			getErr = f.Sync()
		}
		if cerr := f.Close(); getErr == nil {
			getErr = cerr
		}
		written = cw.n
		return getErr
	})
	if err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		return err
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("install download: %w", err)
	}
	metrics.RecordTransportBytes(string(provider), "download", written)
	return nil
}

// Delete removes remoteKey from provider. Deleting a missing object succeeds.
func (t *Transport) Delete(ctx context.Context, remoteKey string, provider models.CloudProvider) error {
	p, err := t.provider(provider)
	if err != nil {
		return err
	}
	return t.call(ctx, p, OpDelete, remoteKey, func(ctx context.Context) error {
		return p.Remove(ctx, remoteKey)
	})
}

// call runs fn under the retry policy, the provider's breaker and the per-call
// timeout.
func (t *Transport) call(ctx context.Context, p Provider, op, key string, fn func(ctx context.Context) error) error {
	name := p.Name()
	r := &retry.Retrier{
		Policy:    t.opts.Retry,
		Clock:     t.opts.Clock,
		Retriable: models.IsRetriable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("provider", string(name)).
				Str("operation", op).
				Str("key", key).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Transport call failed, retrying")
		},
	}

	return r.Do(ctx, func(ctx context.Context, _ int) error {
		start := time.Now()
		err := t.attempt(ctx, p, op, key, fn)
		result := metrics.ResultSuccess
		switch {
		case err == nil:
		case models.IsRetriable(err):
			result = metrics.ResultRetry
		default:
			result = metrics.ResultFailure
		}
		metrics.RecordTransportCall(string(name), op, result, time.Since(start))
		return err
	})
}

func (t *Transport) attempt(ctx context.Context, p Provider, op, key string, fn func(ctx context.Context) error) error {
	cctx := ctx
	if t.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, t.opts.CallTimeout)
		defer cancel()
	}

	cb := t.breakers[p.Name()]
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(cctx)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName(string(p.Name())), "rejected").Inc()
		return &models.TransportError{Provider: p.Name(), Op: op, Key: key, Retriable: true, Err: err}
	}
	var te *models.TransportError
	if errors.As(err, &te) {
		return err
	}
	// Unclassified failures are transient only when this call timed out
	// while the caller is still waiting.
	retriable := ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || isTransientNetErr(err))
	return &models.TransportError{Provider: p.Name(), Op: op, Key: key, Retriable: retriable, Err: err}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
