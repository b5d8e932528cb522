package toolcall

import (
	"context"
	"errors"

	"github.com/modelrelay/modelrelay/jsonval"
	"github.com/modelrelay/modelrelay/transport"
)

// Sender adapts a transport client to the TurnSender interface. Turns are
// sent to a fixed path as idempotent JSON POSTs so retried sends replay the
// same idempotency key.
type Sender struct {
	client *transport.Client
	path   string
}

// NewSender builds a Sender posting turns to path (typically "/responses").
func NewSender(client *transport.Client, path string) (*Sender, error) {
	if client == nil {
		return nil, errors.New("toolcall: transport client is required")
	}
	if path == "" {
		return nil, errors.New("toolcall: path is required")
	}
	return &Sender{client: client, path: path}, nil
}

// SendTurn implements TurnSender.
func (s *Sender) SendTurn(ctx context.Context, payload map[string]any) (jsonval.Value, error) {
	return s.client.PostJSON(ctx, s.path, payload, true)
}
