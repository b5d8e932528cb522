// Package idempotency derives deterministic idempotency keys for safe
// request replay. Retries of the same logical request within one time
// bucket reuse the same key so the origin can deduplicate, while distinct
// operations (different path, body, or bucket) get distinct keys.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Deriver computes idempotency keys. The zero BucketSeconds defaults to 300.
// Now is injectable for deterministic tests and defaults to time.Now.
type Deriver struct {
	// BucketSeconds is the width of the time bucket in seconds.
	BucketSeconds int
	// Now supplies the current time.
	Now func() time.Time
}

// DefaultBucketSeconds is the bucket width used when none is configured.
const DefaultBucketSeconds = 300

// Key derives the idempotency key for a request. The body is canonicalized
// (decoded and re-encoded so object keys serialize in sorted order) before
// hashing, so payloads that differ only in field order map to the same key.
func (d Deriver) Key(method, path string, body any) (string, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize body: %w", err)
	}
	bucket := d.BucketSeconds
	if bucket <= 0 {
		bucket = DefaultBucketSeconds
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	idx := now().Unix() / int64(bucket)

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(idx, 10)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonicalize returns the deterministic JSON encoding of body. encoding/json
// sorts map keys, so round-tripping through map[string]any normalizes field
// order regardless of how the caller constructed the payload.
func Canonicalize(body any) ([]byte, error) {
	if body == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
