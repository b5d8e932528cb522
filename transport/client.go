// Package transport owns outbound HTTP to the upstream model API: JSON
// POSTs, multipart uploads, SSE streaming, and simple GET/DELETE calls. It
// applies the retry policy and deterministic idempotency keys; it does not
// implement connection pooling beyond what the injected *http.Client
// provides.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/modelrelay/modelrelay/idempotency"
	"github.com/modelrelay/modelrelay/jsonval"
	"github.com/modelrelay/modelrelay/retry"
)

type (
	// Option configures the transport client.
	Option func(*Client)

	// Client issues requests against a single upstream base URL. It is safe
	// for concurrent use; the underlying *http.Client connection pool is
	// shared across requests.
	Client struct {
		baseURL string
		http    *http.Client
		headers http.Header
		policy  retry.Policy
		deriver *idempotency.Deriver
		limiter *rate.Limiter
		timeout time.Duration

		tracer   trace.Tracer
		requests metric.Int64Counter
		retries  metric.Int64Counter
		duration metric.Float64Histogram
	}
)

// IdempotencyKeyHeader carries the deterministic replay key on idempotent
// requests.
const IdempotencyKeyHeader = "Idempotency-Key"

const instrumentationName = "github.com/modelrelay/modelrelay/transport"

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(http.Header)
		}
		c.headers.Add(name, value)
	}
}

// WithAPIKey configures the client to send an Authorization Bearer token.
func WithAPIKey(key string) Option {
	return WithHeader("Authorization", "Bearer "+key)
}

// WithUserAgent sets the User-Agent header on all outgoing requests.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithRetry sets the retry policy applied to non-streaming operations.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithIdempotency enables deterministic idempotency keys on requests the
// caller marks idempotent.
func WithIdempotency(d *idempotency.Deriver) Option {
	return func(c *Client) { c.deriver = d }
}

// WithRateLimiter installs a client-side limiter awaited before each
// attempt.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout sets the per-attempt deadline. Zero disables it; the caller's
// context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New constructs a transport client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 0},
		headers: make(http.Header),
		policy:  retry.NewPolicy(retry.DefaultConfig()),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	meter := otel.Meter(instrumentationName)
	c.requests, _ = meter.Int64Counter("relay.http.requests")
	c.retries, _ = meter.Int64Counter("relay.http.retries")
	c.duration, _ = meter.Float64Histogram("relay.http.duration")
	return c, nil
}

// PostJSON serializes payload, attaches an idempotency key when requested,
// executes with retries, and decodes the JSON response body.
func (c *Client) PostJSON(ctx context.Context, path string, payload any, idempotent bool) (jsonval.Value, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return jsonval.Value{}, fmt.Errorf("transport: encode payload: %w", err)
	}
	key := ""
	if idempotent && c.deriver != nil {
		// Derived once per logical request so every retry replays the
		// same key even across a bucket boundary.
		if key, err = c.deriver.Key(http.MethodPost, path, payload); err != nil {
			return jsonval.Value{}, fmt.Errorf("transport: idempotency key: %w", err)
		}
	}
	return c.doJSON(ctx, "post_json", http.MethodPost, path, func() (io.Reader, string, error) {
		return bytes.NewReader(body), "application/json", nil
	}, key)
}

// GetJSON issues a GET and decodes the JSON response body. GETs are
// idempotent by nature and retried per policy without an explicit key.
func (c *Client) GetJSON(ctx context.Context, path string) (jsonval.Value, error) {
	return c.doJSON(ctx, "get_json", http.MethodGet, path, nil, "")
}

// Delete issues a DELETE and reports whether the upstream acknowledged the
// deletion (2xx, with a body-level "deleted" flag honored when present).
func (c *Client) Delete(ctx context.Context, path string) (bool, error) {
	out, err := c.doJSON(ctx, "delete", http.MethodDelete, path, nil, "")
	if err != nil {
		return false, err
	}
	if v, ok := out.Lookup("deleted"); ok {
		if deleted, err := v.Bool(); err == nil {
			return deleted, nil
		}
	}
	return true, nil
}

// doJSON runs the retry loop for a JSON-decoded call. makeBody rebuilds the
// request body for each attempt; nil means no body.
func (c *Client) doJSON(ctx context.Context, op, method, path string, makeBody func() (io.Reader, string, error), idemKey string) (jsonval.Value, error) {
	ctx, span := c.tracer.Start(ctx, "transport."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer span.End()
	start := time.Now()

	var (
		out        jsonval.Value
		lastErr    error
		lastStatus int
		lastBody   jsonval.Value
		attempts   int
	)
	maxAttempts := c.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts = attempt + 1
		status, errBody, err := c.attempt(ctx, method, path, makeBody, idemKey, &out)
		if err == nil {
			c.observe(op, method, start, attempts, nil)
			return out, nil
		}
		lastErr, lastStatus, lastBody = err, status, errBody
		if userCanceled(ctx, err) {
			c.observe(op, method, start, attempts, err)
			return jsonval.Value{}, err
		}
		dec := c.policy.Decide(attempt, err)
		if !dec.Retry {
			break
		}
		c.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		log.Debug(ctx,
			log.KV{K: "msg", V: "transport retry"},
			log.KV{K: "op", V: op},
			log.KV{K: "path", V: path},
			log.KV{K: "attempt", V: attempts},
			log.KV{K: "delay", V: dec.Delay.String()},
			log.KV{K: "status", V: status})
		select {
		case <-ctx.Done():
			c.observe(op, method, start, attempts, ctx.Err())
			return jsonval.Value{}, ctx.Err()
		case <-time.After(dec.Delay):
		}
	}

	terr := &Error{
		op:       op,
		path:     path,
		kind:     classify(ctx, lastErr),
		status:   lastStatus,
		attempts: attempts,
		errBody:  lastBody,
		cause:    lastErr,
	}
	c.observe(op, method, start, attempts, terr)
	return jsonval.Value{}, terr
}

// attempt executes one HTTP round trip. A non-2xx status is returned as a
// *retry.StatusError so the policy can classify it; the parsed upstream
// error body, when present, is returned alongside.
func (c *Client) attempt(ctx context.Context, method, path string, makeBody func() (io.Reader, string, error), idemKey string, out *jsonval.Value) (int, jsonval.Value, error) {
	actx := ctx
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(actx); err != nil {
			return 0, jsonval.Value{}, err
		}
	}

	var (
		body        io.Reader
		contentType string
		err         error
	)
	if makeBody != nil {
		if body, contentType, err = makeBody(); err != nil {
			return 0, jsonval.Value{}, err
		}
	}
	req, err := http.NewRequestWithContext(actx, method, c.baseURL+path, body)
	if err != nil {
		return 0, jsonval.Value{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.applyHeaders(req)
	if idemKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, jsonval.Value{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, jsonval.Value{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := jsonval.Decode(raw)
		return resp.StatusCode, errBody, &retry.StatusError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	if out != nil {
		if len(raw) == 0 {
			*out = jsonval.Value{}
			return resp.StatusCode, jsonval.Value{}, nil
		}
		decoded, err := jsonval.Decode(raw)
		if err != nil {
			// A malformed 2xx body is permanent: the bytes are consumed
			// and a replay would double-apply the operation.
			return resp.StatusCode, jsonval.Value{}, &malformedBodyError{cause: err}
		}
		*out = decoded
	}
	return resp.StatusCode, jsonval.Value{}, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (c *Client) observe(op, method string, start time.Time, attempts int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
		attribute.Int("attempts", attempts),
	)
	c.requests.Add(context.Background(), 1, attrs)
	c.duration.Record(context.Background(), time.Since(start).Seconds(), attrs)
}

// classify maps the final error of a request to its caller-facing kind.
func classify(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return KindTimeout
	}
	if retry.IsRetryable(err) {
		return KindTransient
	}
	return KindPermanent
}

// userCanceled reports whether err reflects the caller abandoning the
// request rather than a failure worth retrying or wrapping.
func userCanceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() != nil
}

// malformedBodyError marks a 2xx response whose body could not be decoded.
type malformedBodyError struct {
	cause error
}

func (e *malformedBodyError) Error() string {
	return fmt.Sprintf("malformed response body: %v", e.cause)
}

func (e *malformedBodyError) Unwrap() error { return e.cause }
