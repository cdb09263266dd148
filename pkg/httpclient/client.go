// Package httpclient provides the shared outbound HTTP client used by the
// malware-list fetcher and the blocked-event notifier. It wraps the
// connection pool, decompression, and retry/backoff behavior behind a
// small Doer interface rather than a hand-rolled client stack.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Doer is the minimal interface the core depends on. *http.Client and this
// package's Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps *http.Client with exponential backoff (100ms -> MaxInterval)
// plus 1% jitter, retrying transport errors and 5xx responses up to
// MaxElapsedTime. Client never retries non-idempotent semantics beyond what
// the caller's context deadline allows.
//
// Limiter, if set, caps the steady-state rate of outbound requests across
// every caller sharing this Client — the malware-list refresh loops for
// every ecosystem and the blocked-event notifier all multiplex onto one
// Client, and without a shared ceiling their independent jittered tickers
// can still coincide and burst the upstream endpoint.
type Client struct {
	HTTP           *http.Client
	MaxInterval    time.Duration
	MaxElapsedTime time.Duration
	UserAgent      string
	Limiter        *rate.Limiter
}

// New builds a Client with the given per-request timeout and backoff
// ceiling. limit and burst configure the shared rate limiter; limit <= 0
// disables rate limiting entirely.
func New(timeout, maxInterval, maxElapsedTime time.Duration, userAgent string, limit rate.Limit, burst int) *Client {
	var limiter *rate.Limiter
	if limit > 0 {
		limiter = rate.NewLimiter(limit, burst)
	}
	return &Client{
		HTTP:           &http.Client{Timeout: timeout},
		MaxInterval:    maxInterval,
		MaxElapsedTime: maxElapsedTime,
		UserAgent:      userAgent,
		Limiter:        limiter,
	}
}

// retryableError marks transport- and 5xx-class failures as retryable for
// backoff.v5's typed-error retry model.
type retryableError struct{ err error }

func (r retryableError) Error() string { return r.err.Error() }
func (r retryableError) Unwrap() error { return r.err }

// Do issues req with jittered exponential backoff. req.Body, if present,
// must support GetBody for retries to resend it; GET requests (the only
// verb this system issues for malware-list refreshes) have no body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = c.MaxInterval
	b.RandomizationFactor = 0.01

	op := func() (*http.Response, error) {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(req.Context()); err != nil {
				return nil, retryableError{err}
			}
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, retryableError{err}
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, retryableError{fmt.Errorf("http %d: %s", resp.StatusCode, body)}
		}
		return resp, nil
	}

	result, err := backoff.Retry(req.Context(), op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.MaxElapsedTime),
	)
	if err != nil {
		var re retryableError
		if ok := asRetryable(err, &re); ok {
			return nil, re.err
		}
		return nil, err
	}
	return result, nil
}

func asRetryable(err error, target *retryableError) bool {
	for err != nil {
		if re, ok := err.(retryableError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Jitter returns a random duration uniformly distributed in [0, max). It
// is used to stagger periodic refresh loops (§4.2) and mirrors the
// randomization already used for backoff itself.
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// LogTransientError logs a transient outbound failure at warn level with a
// component tag, matching the error-handling taxonomy's "transient upstream
// error -> warn, keep serving stale state" rule.
func LogTransientError(ctx context.Context, component string, err error) {
	log.Ctx(ctx).Warn().Str("component", component).Err(err).Msg("transient outbound request failure")
}
