package sse

import (
	"encoding/json"
	"io"
	"strings"
)

// deltaEventSuffix matches the event types that carry incremental text,
// e.g. "response.output_text.delta".
const deltaEventSuffix = ".delta"

// TextStream reduces an event stream to its incremental text chunks.
// Structural and control events (response.completed, tool-call events,
// heartbeats) are skipped; they remain visible only to consumers of the raw
// event stream. TextStream owns the underlying Stream: closing it closes
// the connection.
type TextStream struct {
	events  *Stream
	onChunk func(string)
}

// TextChunks wraps events in a TextStream. onChunk, when non-nil, is invoked
// synchronously for each extracted chunk before Next yields it, so push and
// pull consumers observe the same chunks in the same order.
func TextChunks(events *Stream, onChunk func(string)) *TextStream {
	return &TextStream{events: events, onChunk: onChunk}
}

// Next returns the next text delta. It skips non-delta events and returns
// io.EOF when the underlying event stream ends.
func (t *TextStream) Next() (string, error) {
	for {
		ev, err := t.events.Next()
		if err != nil {
			return "", err
		}
		chunk, ok := deltaText(ev)
		if !ok {
			continue
		}
		if t.onChunk != nil {
			t.onChunk(chunk)
		}
		return chunk, nil
	}
}

// Close stops consumption and closes the underlying connection.
func (t *TextStream) Close() error { return t.events.Close() }

// Collect drains the stream and returns the concatenated text. The stream
// is closed on return.
func (t *TextStream) Collect() (string, error) {
	defer func() { _ = t.Close() }()
	var b strings.Builder
	for {
		chunk, err := t.Next()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// deltaText extracts the incremental text from a delta-carrying event. The
// upstream emits typed events whose JSON data carries the fragment in a
// "delta" field; bare "message" events with a plain "delta" member are
// accepted as well.
func deltaText(ev Event) (string, bool) {
	if !strings.HasSuffix(ev.Type, deltaEventSuffix) && ev.Type != "message" {
		return "", false
	}
	if ev.Data == "" {
		return "", false
	}
	var payload struct {
		Delta string `json:"delta"`
	}
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		return "", false
	}
	if payload.Delta == "" {
		return "", false
	}
	// Only text deltas feed the text sequence; tool-call argument deltas
	// arrive under distinct event types.
	if strings.HasSuffix(ev.Type, deltaEventSuffix) && !strings.Contains(ev.Type, "output_text") {
		return "", false
	}
	return payload.Delta, true
}
