package sse

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type trackingReadCloser struct {
	io.Reader
	closed atomic.Bool
}

func (t *trackingReadCloser) Close() error {
	t.closed.Store(true)
	return nil
}

func newTestStream(raw string) (*Stream, *trackingReadCloser) {
	rc := &trackingReadCloser{Reader: strings.NewReader(raw)}
	return NewStream(rc, nil), rc
}

func TestDecoderCanonicalBlock(t *testing.T) {
	var d Decoder

	for _, line := range []string{"event: foo", "data: a", "data: b"} {
		_, done := d.Line(line)
		assert.False(t, done)
	}
	ev, done := d.Line("")
	require.True(t, done)
	assert.Equal(t, "foo", ev.Type)
	assert.Equal(t, "a\nb", ev.Data)
}

func TestDecoderDefaultsTypeToMessage(t *testing.T) {
	var d Decoder
	d.Line("data: hello")
	ev, done := d.Line("")
	require.True(t, done)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "hello", ev.Data)
}

func TestDecoderCommentsDiscarded(t *testing.T) {
	var d Decoder
	_, done := d.Line(": ping")
	assert.False(t, done)
	_, done = d.Line("")
	assert.False(t, done, "comment-only block emits nothing")
}

func TestDecoderPreservesDataWithoutSpace(t *testing.T) {
	var d Decoder
	d.Line("data:tight")
	ev, done := d.Line("")
	require.True(t, done)
	assert.Equal(t, "tight", ev.Data)
}

func TestStreamYieldsEventsInOrder(t *testing.T) {
	s, rc := newTestStream("event: a\ndata: 1\n\nevent: b\ndata: 2\n\n")

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Type)

	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Type)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
	assert.True(t, rc.closed.Load(), "connection released at end of stream")
}

func TestStreamDoneSentinelTerminates(t *testing.T) {
	s, rc := newTestStream("data: x\n\ndata: [DONE]\n\ndata: after\n\n")

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", ev.Data)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
	assert.True(t, rc.closed.Load())

	_, err = s.Next()
	assert.Equal(t, io.EOF, err, "stream stays terminal")
}

func TestStreamCloseMidIteration(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, rc := newTestStream("data: 1\n\ndata: 2\n\ndata: 3\n\n")
	_, err := s.Next()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, rc.closed.Load(), "close releases the connection")
}

func TestStreamInterruptedMidEvent(t *testing.T) {
	// Connection drops with a partially accumulated block.
	s, _ := newTestStream("data: partial")
	_, err := s.Next()

	var ie *InterruptedError
	require.ErrorAs(t, err, &ie)
	assert.True(t, IsInterrupted(err))

	_, err = s.Next()
	assert.True(t, IsInterrupted(err), "terminal error is sticky")
}

func TestStreamOnCloseRunsOnce(t *testing.T) {
	var calls atomic.Int32
	rc := &trackingReadCloser{Reader: strings.NewReader("data: 1\n\n")}
	s := NewStream(rc, func() { calls.Add(1) })

	_, err := s.Next()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsInterruptedOnUnrelatedError(t *testing.T) {
	assert.False(t, IsInterrupted(errors.New("boom")))
	assert.False(t, IsInterrupted(nil))
}
