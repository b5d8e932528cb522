package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableClassification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("nil error is not retryable", prop.ForAll(
		func(_ int) bool { return !IsRetryable(nil) },
		gen.Int(),
	))

	properties.Property("context.Canceled is not retryable", prop.ForAll(
		func(_ int) bool { return !IsRetryable(context.Canceled) },
		gen.Int(),
	))

	properties.Property("context.DeadlineExceeded is retryable", prop.ForAll(
		func(_ int) bool { return IsRetryable(context.DeadlineExceeded) },
		gen.Int(),
	))

	properties.Property("429 is retryable", prop.ForAll(
		func(msg string) bool {
			return IsRetryable(&StatusError{StatusCode: http.StatusTooManyRequests, Message: msg})
		},
		gen.AlphaString(),
	))

	properties.Property("all 5xx are retryable", prop.ForAll(
		func(status int) bool {
			return IsRetryable(&StatusError{StatusCode: status})
		},
		gen.IntRange(500, 599),
	))

	properties.Property("4xx other than 429 are not retryable", prop.ForAll(
		func(status int) bool {
			if status == http.StatusTooManyRequests {
				return true
			}
			return !IsRetryable(&StatusError{StatusCode: status})
		},
		gen.IntRange(400, 499),
	))

	properties.TestingRun(t)
}

func TestDecideCeiling(t *testing.T) {
	p := Policy{Config: Config{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}}
	transient := &StatusError{StatusCode: 503}

	assert.True(t, p.Decide(0, transient).Retry)
	assert.True(t, p.Decide(1, transient).Retry)
	assert.False(t, p.Decide(2, transient).Retry, "third attempt is the last")
}

func TestDecideNonTransient(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	assert.False(t, p.Decide(0, &StatusError{StatusCode: 400}).Retry)
	assert.False(t, p.Decide(0, errors.New("malformed")).Retry)
	assert.False(t, p.Decide(0, context.Canceled).Retry)
}

func TestDelaysMonotonicWithoutJitter(t *testing.T) {
	p := Policy{Config: Config{
		MaxAttempts:       6,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}}
	transient := &StatusError{StatusCode: 503}
	var prev time.Duration
	for attempt := 0; attempt < 5; attempt++ {
		dec := p.Decide(attempt, transient)
		require.True(t, dec.Retry)
		assert.GreaterOrEqual(t, dec.Delay, prev, "delay shrank at attempt %d", attempt)
		prev = dec.Delay
	}
}

func TestDelayCappedAtMaxBackoff(t *testing.T) {
	p := Policy{Config: Config{
		MaxAttempts:       10,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        300 * time.Millisecond,
		BackoffMultiplier: 3.0,
	}}
	dec := p.Decide(5, &StatusError{StatusCode: 502})
	require.True(t, dec.Retry)
	assert.Equal(t, 300*time.Millisecond, dec.Delay)
}

func TestJitterRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("jittered delay stays within [0.5x, 1.5x]", prop.ForAll(
		func(r float64) bool {
			p := Policy{
				Config: Config{
					MaxAttempts:       5,
					InitialBackoff:    100 * time.Millisecond,
					MaxBackoff:        time.Minute,
					BackoffMultiplier: 2.0,
					Jitter:            true,
				},
				Rand: func() float64 { return r },
			}
			dec := p.Decide(1, &StatusError{StatusCode: 503})
			base := 200 * time.Millisecond
			return dec.Delay >= base/2 && dec.Delay <= base*3/2
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestDoRetriesExactlyPerBudget(t *testing.T) {
	p := Policy{Config: Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
	}}
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 503}
	})
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.StatusCode)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	calls := 0
	permanent := &StatusError{StatusCode: 404}
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, permanent, err)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{Config: Config{
		MaxAttempts:       4,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
	}}
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 500}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	p := Policy{Config: Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Hour,
		BackoffMultiplier: 2.0,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, func(context.Context) error {
		return &StatusError{StatusCode: 503}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
