// Package modelrelay assembles the client runtime for a remote
// large-language-model API: an HTTP transport with retries and
// deterministic idempotency keys, SSE streaming normalized into events and
// text deltas, inbound webhook verification, and the multi-round
// tool-calling loop. The subpackages are usable on their own; this package
// wires them together from a single Config.
package modelrelay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/config"
	"github.com/modelrelay/modelrelay/idempotency"
	"github.com/modelrelay/modelrelay/retry"
	"github.com/modelrelay/modelrelay/store"
	"github.com/modelrelay/modelrelay/toolcall"
	"github.com/modelrelay/modelrelay/transport"
	"github.com/modelrelay/modelrelay/webhook"
)

// Runtime bundles the composed client-side components.
type Runtime struct {
	// Transport is the outbound HTTP client.
	Transport *transport.Client
	// Webhook serves the inbound notification endpoint; nil when webhooks
	// are disabled and no secret is configured.
	Webhook *webhook.Handler
	cfg     config.Config
}

// New composes a Runtime from cfg. statusStore may be nil; webhook
// notifications are then dispatched to observers only.
func New(cfg config.Config, statusStore store.StatusStore, observers ...webhook.Observer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []transport.Option{
		transport.WithRetry(retry.NewPolicy(retry.Config{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			Jitter:            cfg.Retry.Jitter,
		})),
		transport.WithTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, transport.WithAPIKey(cfg.APIKey))
	}
	if cfg.Idempotency.Enabled {
		opts = append(opts, transport.WithIdempotency(&idempotency.Deriver{
			BucketSeconds: cfg.Idempotency.BucketSeconds,
		}))
	}
	client, err := transport.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("compose transport: %w", err)
	}

	rt := &Runtime{Transport: client, cfg: cfg}
	if cfg.Webhook.Enabled || cfg.Webhook.Secret != "" {
		rt.Webhook = &webhook.Handler{
			Enabled: cfg.Webhook.Enabled,
			Verifier: webhook.Verifier{
				Secret:  cfg.Webhook.Secret,
				MaxSkew: time.Duration(cfg.Webhook.MaxSkewSeconds) * time.Second,
			},
			SignatureHeader: cfg.Webhook.SignatureHeader,
			TimestampHeader: cfg.Webhook.TimestampHeader,
			Store:           statusStore,
			Observers:       observers,
		}
	}
	return rt, nil
}

// ToolLoop builds a tool-calling loop posting turns to path with the
// configured round budget and execution mode.
func (r *Runtime) ToolLoop(path string, exec toolcall.Executor, opts ...toolcall.LoopOption) (*toolcall.Loop, error) {
	sender, err := toolcall.NewSender(r.Transport, path)
	if err != nil {
		return nil, err
	}
	base := []toolcall.LoopOption{toolcall.WithMaxRounds(r.cfg.Tools.MaxRounds)}
	if r.cfg.Tools.Parallel {
		base = append(base, toolcall.WithParallelExecution())
	}
	return toolcall.NewLoop(sender, exec, append(base, opts...)...)
}

// WebhookHandler returns the inbound endpoint as an http.Handler, or a
// handler that always responds 404 when webhooks are not configured.
func (r *Runtime) WebhookHandler() http.Handler {
	if r.Webhook != nil {
		return r.Webhook
	}
	return &webhook.Handler{}
}
