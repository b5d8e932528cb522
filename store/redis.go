package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a go-redis backed StatusStore. Records are stored as JSON under
// a namespaced key with an optional TTL so stale status entries age out.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the key namespace (default "relay:response:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *Redis) { s.prefix = prefix }
}

// WithTTL sets the expiry applied to stored records. Zero means no expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *Redis) { s.ttl = ttl }
}

// NewRedis constructs a Redis-backed store from an existing client.
func NewRedis(client *redis.Client, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("store: redis client is required")
	}
	s := &Redis{
		client: client,
		prefix: "relay:response:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Put implements StatusStore.
func (s *Redis) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.ResponseID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

// Get implements StatusStore.
func (s *Redis) Get(ctx context.Context, responseID string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(responseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("store: unmarshal record: %w", err)
	}
	return rec, nil
}

// Delete implements StatusStore.
func (s *Redis) Delete(ctx context.Context, responseID string) error {
	if err := s.client.Del(ctx, s.key(responseID)).Err(); err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	return nil
}

func (s *Redis) key(responseID string) string {
	return s.prefix + responseID
}
