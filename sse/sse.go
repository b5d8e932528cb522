// Package sse parses Server-Sent-Events streams into discrete events and
// normalizes them into plain text deltas. The pull-based Stream is the one
// implementation of suspension and cancellation; the push-style chunk
// callback on TextStream is a thin adapter over it.
package sse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

type (
	// Event is one decoded SSE block. Type defaults to "message" when the
	// block carries no event: line. Data joins repeated data: lines with
	// newlines per the SSE framing rules. Raw preserves the original block.
	Event struct {
		Type string
		Data string
		Raw  string
	}

	// Decoder accumulates incoming lines into events. It is a plain state
	// machine with no I/O; Stream drives it from a reader.
	Decoder struct {
		eventType string
		data      []string
		raw       []string
	}

	// Stream lazily yields events from an underlying reader, typically an
	// HTTP response body. It is single-pass and not restartable: Next
	// returns io.EOF once the connection closes or the terminal sentinel
	// event arrives. Close releases the underlying connection and may be
	// called at any time to cancel consumption.
	Stream struct {
		body    io.ReadCloser
		scanner *bufio.Scanner
		dec     Decoder
		done    bool
		err     error

		// onClose, when set, runs once when the stream is closed or
		// exhausted (cancel funcs, idle timers).
		onClose func()
		closed  bool
	}
)

// DoneData is the sentinel data payload that terminates a stream.
const DoneData = "[DONE]"

// maxLineSize bounds a single SSE line; generous enough for large deltas.
const maxLineSize = 1024 * 1024

// NewStream wraps body in a lazy event sequence. onClose may be nil.
func NewStream(body io.ReadCloser, onClose func()) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Stream{body: body, scanner: sc, onClose: onClose}
}

// Line feeds one line into the decoder. It returns the completed event and
// true when the line terminates a block (blank line), otherwise false.
// Comment lines (leading ':') are discarded and never produce events.
func (d *Decoder) Line(line string) (Event, bool) {
	switch {
	case line == "":
		if d.eventType == "" && len(d.data) == 0 {
			return Event{}, false
		}
		ev := d.flush()
		return ev, true
	case strings.HasPrefix(line, ":"):
		return Event{}, false
	case strings.HasPrefix(line, "event:"):
		d.eventType = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		d.raw = append(d.raw, line)
		return Event{}, false
	case strings.HasPrefix(line, "data:"):
		val := strings.TrimPrefix(line, "data:")
		if strings.HasPrefix(val, " ") {
			val = val[1:]
		}
		d.data = append(d.data, val)
		d.raw = append(d.raw, line)
		return Event{}, false
	default:
		// Unknown fields (id:, retry:, bare text) are kept in Raw only.
		d.raw = append(d.raw, line)
		return Event{}, false
	}
}

// Pending reports whether the decoder holds a partially accumulated event.
func (d *Decoder) Pending() bool {
	return d.eventType != "" || len(d.data) > 0
}

func (d *Decoder) flush() Event {
	typ := d.eventType
	if typ == "" {
		typ = "message"
	}
	ev := Event{
		Type: typ,
		Data: strings.Join(d.data, "\n"),
		Raw:  strings.Join(d.raw, "\n"),
	}
	d.eventType = ""
	d.data = nil
	d.raw = nil
	return ev
}

// Next returns the next event in arrival order. It blocks until a full
// block is available, the stream ends (io.EOF), or the connection drops
// (*InterruptedError). After the terminal sentinel event the underlying
// connection is closed and subsequent calls return io.EOF.
func (s *Stream) Next() (Event, error) {
	if s.done {
		return Event{}, s.terminalErr()
	}
	for s.scanner.Scan() {
		ev, ok := s.dec.Line(s.scanner.Text())
		if !ok {
			continue
		}
		if isDone(ev) {
			s.finish(nil)
			return Event{}, io.EOF
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		s.finish(&InterruptedError{Cause: err})
		return Event{}, s.err
	}
	// EOF with a pending partial block means the connection dropped
	// mid-event.
	if s.dec.Pending() {
		s.finish(&InterruptedError{Cause: io.ErrUnexpectedEOF})
		return Event{}, s.err
	}
	s.finish(nil)
	return Event{}, io.EOF
}

// Close cancels consumption and closes the underlying connection. It is
// idempotent and safe to call after Next returned io.EOF.
func (s *Stream) Close() error {
	s.done = true
	return s.release()
}

func (s *Stream) finish(err error) {
	s.done = true
	s.err = err
	_ = s.release()
}

func (s *Stream) release() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.body.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (s *Stream) terminalErr() error {
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func isDone(ev Event) bool {
	return ev.Type == "done" || ev.Data == DoneData
}

// InterruptedError reports an SSE connection that dropped mid-stream. The
// transport never retries it; the consumer decides whether to re-issue the
// turn.
type InterruptedError struct {
	Cause error
}

// Error implements the error interface.
func (e *InterruptedError) Error() string {
	return fmt.Sprintf("sse stream interrupted: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *InterruptedError) Unwrap() error { return e.Cause }

// IsInterrupted reports whether err marks a mid-stream connection drop.
func IsInterrupted(err error) bool {
	var ie *InterruptedError
	return errors.As(err, &ie)
}
