package transport

import (
	"errors"
	"fmt"

	"github.com/modelrelay/modelrelay/jsonval"
)

// ErrorKind classifies transport failures for retry and caller decisions.
type ErrorKind string

const (
	// KindTransient marks failures a retry may resolve (timeouts,
	// connection resets, 429, 5xx).
	KindTransient ErrorKind = "transient"

	// KindPermanent marks failures retrying cannot fix (4xx other than
	// 429, malformed response bodies).
	KindPermanent ErrorKind = "permanent"

	// KindTimeout marks a per-call deadline expiry. Distinct from user
	// cancellation, which is never wrapped in an Error.
	KindTimeout ErrorKind = "timeout"
)

// Error describes a failed transport operation with full retry context. It
// crosses package boundaries so callers can implement per-kind recovery
// without string matching.
type Error struct {
	op       string
	path     string
	kind     ErrorKind
	status   int
	attempts int
	errBody  jsonval.Value
	cause    error
}

// Op returns the operation name (for example, "post_json").
func (e *Error) Op() string { return e.op }

// Path returns the request path.
func (e *Error) Path() string { return e.path }

// Kind returns the coarse-grained failure classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// StatusCode returns the last HTTP status code, or 0 when the failure
// occurred before a response arrived.
func (e *Error) StatusCode() int { return e.status }

// Attempts returns how many attempts were made.
func (e *Error) Attempts() int { return e.attempts }

// Body returns the parsed upstream error body when one was present.
func (e *Error) Body() jsonval.Value { return e.errBody }

// Retryable reports whether the failure was classified transient. Such
// errors are surfaced only after the retry policy is exhausted.
func (e *Error) Retryable() bool { return e.kind == KindTransient || e.kind == KindTimeout }

func (e *Error) Error() string {
	status := ""
	if e.status > 0 {
		status = fmt.Sprintf(" status %d", e.status)
	}
	return fmt.Sprintf("transport %s %s: %s%s after %d attempt(s): %v",
		e.op, e.path, e.kind, status, e.attempts, e.cause)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// AsError returns the first transport Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
