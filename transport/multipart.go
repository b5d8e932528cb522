package transport

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/modelrelay/modelrelay/jsonval"
)

type (
	// Field is one part of a multipart request: either a scalar value or a
	// file reference. File contents are streamed from disk through an
	// io.Pipe, never buffered whole in memory.
	Field struct {
		// Name is the form field name.
		Name string
		// Value is the scalar value; ignored when Path is set.
		Value string
		// Path references a file to upload.
		Path string
		// Filename overrides the basename of Path on the wire.
		Filename string
		// ContentType overrides the part's content type.
		ContentType string
	}

	// ProgressFunc receives upload progress ticks. total is the sum of the
	// referenced file sizes, or -1 when any size is unknown.
	ProgressFunc func(sent, total int64)

	countingReader struct {
		r        io.Reader
		sent     int64
		total    int64
		progress ProgressFunc
	}
)

// PostMultipart uploads fields as a multipart form and decodes the JSON
// response. The multipart body is rebuilt from its sources on every retry
// attempt, so files must remain readable until the call returns.
func (c *Client) PostMultipart(ctx context.Context, path string, fields []Field, idempotent bool, progress ProgressFunc) (jsonval.Value, error) {
	key := ""
	if idempotent && c.deriver != nil {
		fingerprint := multipartFingerprint(fields)
		var err error
		if key, err = c.deriver.Key(http.MethodPost, path, fingerprint); err != nil {
			return jsonval.Value{}, fmt.Errorf("transport: idempotency key: %w", err)
		}
	}
	total := totalFileSize(fields)
	return c.doJSON(ctx, "post_multipart", http.MethodPost, path, func() (io.Reader, string, error) {
		body, contentType := streamMultipart(fields)
		if progress == nil {
			return body, contentType, nil
		}
		return &countingReader{r: body, total: total, progress: progress}, contentType, nil
	}, key)
}

// streamMultipart writes the multipart body through a pipe so file contents
// stream directly from disk into the request.
func streamMultipart(fields []Field) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeParts(mw, fields)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		_ = pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func writeParts(mw *multipart.Writer, fields []Field) error {
	for _, f := range fields {
		if f.Path == "" {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return fmt.Errorf("write field %q: %w", f.Name, err)
			}
			continue
		}
		name := f.Filename
		if name == "" {
			name = filepath.Base(f.Path)
		}
		part, err := mw.CreateFormFile(f.Name, name)
		if err != nil {
			return fmt.Errorf("create part %q: %w", f.Name, err)
		}
		src, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("open %q: %w", f.Path, err)
		}
		_, err = io.Copy(part, src)
		if cerr := src.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("stream %q: %w", f.Path, err)
		}
	}
	return nil
}

// multipartFingerprint builds the stable payload hashed for the idempotency
// key: field names and values plus file identities (path and size), since
// hashing file contents would force a second full read.
func multipartFingerprint(fields []Field) map[string]any {
	fp := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Path == "" {
			fp[f.Name] = f.Value
			continue
		}
		size := int64(-1)
		if info, err := os.Stat(f.Path); err == nil {
			size = info.Size()
		}
		fp[f.Name] = map[string]any{"path": f.Path, "size": size}
	}
	return fp
}

func totalFileSize(fields []Field) int64 {
	var total int64
	for _, f := range fields {
		if f.Path == "" {
			continue
		}
		info, err := os.Stat(f.Path)
		if err != nil {
			return -1
		}
		total += info.Size()
	}
	return total
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.sent += int64(n)
		r.progress(r.sent, r.total)
	}
	return n, err
}
