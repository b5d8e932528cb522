package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"goa.design/clue/log"

	"github.com/modelrelay/modelrelay/jsonval"
	"github.com/modelrelay/modelrelay/retry"
	"github.com/modelrelay/modelrelay/sse"
)

// StreamSSE opens a long-lived SSE connection for the given payload.
// Streaming requests are never retried by the transport: replaying a
// partially consumed stream is unsafe, and the consumer decides whether to
// re-issue the turn after an *sse.InterruptedError. Closing the returned
// stream (or abandoning it mid-iteration and calling Close) cancels the
// request and releases the connection promptly.
func (c *Client) StreamSSE(ctx context.Context, path string, payload any) (*sse.Stream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: encode payload: %w", err)
	}

	// The cancel func is tied to the stream's lifetime, not this call's.
	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-store")
	c.applyHeaders(req)

	if c.limiter != nil {
		if err := c.limiter.Wait(sctx); err != nil {
			cancel()
			return nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, &Error{
			op:       "stream_sse",
			path:     path,
			kind:     classify(ctx, err),
			attempts: 1,
			cause:    err,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		cancel()
		errBody, _ := jsonval.Decode(raw)
		cause := &retry.StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		return nil, &Error{
			op:       "stream_sse",
			path:     path,
			kind:     classify(ctx, cause),
			status:   resp.StatusCode,
			attempts: 1,
			errBody:  errBody,
			cause:    cause,
		}
	}

	log.Debug(ctx, log.KV{K: "msg", V: "sse stream opened"}, log.KV{K: "path", V: path})
	return sse.NewStream(resp.Body, cancel), nil
}

// StreamText opens an SSE connection and reduces it to plain text deltas.
// onChunk, when non-nil, observes each chunk as it is pulled.
func (c *Client) StreamText(ctx context.Context, path string, payload any, onChunk func(string)) (*sse.TextStream, error) {
	events, err := c.StreamSSE(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	return sse.TextChunks(events, onChunk), nil
}
