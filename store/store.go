// Package store defines the minimal CRUD contract the webhook handler uses
// to record upstream response status notifications, with in-memory and
// Redis-backed implementations. The orchestration core only depends on the
// StatusStore interface.
package store

import (
	"context"
	"errors"
	"time"
)

type (
	// Record captures one received status notification for a response.
	Record struct {
		// ResponseID correlates the notification with an upstream response.
		ResponseID string `json:"response_id"`
		// EventType is the notification's event type (e.g.
		// "response.completed").
		EventType string `json:"event_type"`
		// DeliveryID uniquely identifies this delivery.
		DeliveryID string `json:"delivery_id"`
		// ReceivedAt is when the notification was accepted.
		ReceivedAt time.Time `json:"received_at"`
	}

	// StatusStore persists response status records keyed by response ID.
	// Implementations must be safe for concurrent use.
	StatusStore interface {
		// Put stores or replaces the record for rec.ResponseID.
		Put(ctx context.Context, rec Record) error
		// Get returns the record for the given response ID.
		Get(ctx context.Context, responseID string) (Record, error)
		// Delete removes the record for the given response ID. Deleting a
		// missing record is not an error.
		Delete(ctx context.Context, responseID string) error
	}
)

// ErrNotFound is returned by Get when no record exists for the ID.
var ErrNotFound = errors.New("store: record not found")
