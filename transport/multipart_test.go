package transport

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/idempotency"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPostMultipartStreamsFileAndFields(t *testing.T) {
	path := writeTempFile(t, "notes.txt", "file contents here")

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "assistants", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "notes.txt", header.Filename)
		buf, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "file contents here", string(buf))

		_, _ = w.Write([]byte(`{"id":"file_1"}`))
	}))

	out, err := c.PostMultipart(context.Background(), "/files", []Field{
		{Name: "purpose", Value: "assistants"},
		{Name: "file", Path: path},
	}, false, nil)
	require.NoError(t, err)
	id, _ := out.Lookup("id")
	assert.Equal(t, "file_1", id.StringOr(""))
}

func TestPostMultipartFilenameOverride(t *testing.T) {
	path := writeTempFile(t, "raw.bin", "x")

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "renamed.bin", header.Filename)
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := c.PostMultipart(context.Background(), "/files", []Field{
		{Name: "file", Path: path, Filename: "renamed.bin"},
	}, false, nil)
	require.NoError(t, err)
}

func TestPostMultipartProgress(t *testing.T) {
	path := writeTempFile(t, "data.txt", "0123456789")

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	var lastSent, lastTotal int64
	var ticks int
	_, err := c.PostMultipart(context.Background(), "/files", []Field{
		{Name: "file", Path: path},
	}, false, func(sent, total int64) {
		ticks++
		lastSent, lastTotal = sent, total
	})
	require.NoError(t, err)
	assert.Positive(t, ticks)
	assert.Equal(t, int64(10), lastTotal)
	// The multipart framing exceeds the file size itself.
	assert.Greater(t, lastSent, int64(10))
}

func TestPostMultipartIdempotencyRebuildsBody(t *testing.T) {
	path := writeTempFile(t, "data.txt", "payload")

	var calls atomic.Int32
	var keys []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(IdempotencyKeyHeader))
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		_, _ = w.Write([]byte(`{}`))
	}),
		WithRetry(fastPolicy(3)),
		WithIdempotency(&idempotency.Deriver{BucketSeconds: 60}),
	)

	_, err := c.PostMultipart(context.Background(), "/files", []Field{
		{Name: "file", Path: path},
	}, true, nil)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
}

func TestPostMultipartMissingFile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := c.PostMultipart(context.Background(), "/files", []Field{
		{Name: "file", Path: filepath.Join(t.TempDir(), "missing.txt")},
	}, false, nil)
	require.Error(t, err)
}
