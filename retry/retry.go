// Package retry computes whether and how long to wait before retrying a
// failed upstream call. Policies are pure aside from their configuration and
// an injectable random source for jitter, so they are safe to share across
// concurrent requests.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

type (
	// Config configures retry behavior for transport operations.
	Config struct {
		// MaxAttempts is the maximum number of attempts including the initial
		// one. A value of 0 or 1 means no retries.
		MaxAttempts int
		// InitialBackoff is the delay before the first retry.
		InitialBackoff time.Duration
		// MaxBackoff caps the delay between retries.
		MaxBackoff time.Duration
		// BackoffMultiplier is the factor by which the backoff grows after
		// each retry. 2.0 gives exponential backoff.
		BackoffMultiplier float64
		// Jitter, when true, multiplies each delay by a uniform random factor
		// in [0.5, 1.5] to avoid synchronized retry storms.
		Jitter bool
	}

	// Policy evaluates retry decisions for a Config. Rand is the uniform
	// random source used for jitter; it defaults to math/rand and is
	// injectable for deterministic tests.
	Policy struct {
		Config
		Rand func() float64
	}

	// Decision is the outcome of evaluating one failed attempt.
	Decision struct {
		// Retry reports whether the caller should attempt again.
		Retry bool
		// Delay is how long to wait before the next attempt. Zero when
		// Retry is false.
		Delay time.Duration
	}

	// ExhaustedError is returned when all attempts have been used up.
	ExhaustedError struct {
		// Attempts is the number of attempts made.
		Attempts int
		// TotalDuration is the wall-clock time spent across attempts.
		TotalDuration time.Duration
		// LastError is the error from the final attempt.
		LastError error
	}

	// StatusError represents an upstream HTTP error with its status code.
	// The transport wraps non-2xx responses in richer errors that also
	// satisfy this classification through Unwrap chains.
	StatusError struct {
		StatusCode int
		Message    string
	}
)

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// NewPolicy builds a Policy from cfg with the default random source.
func NewPolicy(cfg Config) Policy {
	return Policy{Config: cfg, Rand: rand.Float64}
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the error from the final attempt.
func (e *ExhaustedError) Unwrap() error { return e.LastError }

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is classified transient. Transient errors
// are network timeouts, connection resets, DNS hiccups, HTTP 429, and HTTP
// 5xx. Context cancellation is never retryable: the caller gave up.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.IsTimeout
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return statusErr.StatusCode >= 500 && statusErr.StatusCode < 600
	}
	return false
}

// Decide evaluates one failed attempt. attempt is 0-indexed: the first
// retry decision is Decide(0, err). Non-transient errors and attempts at or
// beyond MaxAttempts-1 yield Decision{Retry: false}.
func (p Policy) Decide(attempt int, err error) Decision {
	if !IsRetryable(err) {
		return Decision{}
	}
	// attempt counts completed attempts beyond the first; MaxAttempts
	// bounds the total including the initial call.
	if attempt >= p.MaxAttempts-1 {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if max := float64(p.MaxBackoff); p.MaxBackoff > 0 && d > max {
		d = max
	}
	if p.Jitter {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d *= 0.5 + r()
	}
	return time.Duration(d)
}

// Do executes fn with retries per the policy. The function is re-invoked
// while it returns retryable errors and attempts remain; delays honor ctx
// cancellation. On exhaustion the last error is wrapped in *ExhaustedError.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		dec := p.Decide(attempt, err)
		if !dec.Retry {
			if !IsRetryable(err) {
				return err
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dec.Delay):
		}
	}
	return &ExhaustedError{
		Attempts:      attempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}
