package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/modelrelay/modelrelay/jsonval"
	"github.com/modelrelay/modelrelay/store"
)

type (
	// Observer receives accepted webhook notifications. Observers are
	// inject-and-forget: their errors are logged, never surfaced to the
	// sender.
	Observer func(ctx context.Context, event Event)

	// Event is an accepted, verified webhook notification.
	Event struct {
		// DeliveryID uniquely identifies this delivery.
		DeliveryID string
		// ResponseID correlates the notification with an upstream response.
		ResponseID string
		// Type is the notification event type when present.
		Type string
		// Scheme is the signing scheme that verified the request.
		Scheme Scheme
		// Payload is the decoded notification body.
		Payload jsonval.Value
	}

	// Handler serves the inbound webhook endpoint. The zero header names
	// default to X-Relay-Signature and X-Relay-Timestamp.
	Handler struct {
		// Enabled gates the endpoint; when false every request is a 404.
		Enabled bool
		// Verifier checks request signatures. An empty Verifier.Secret
		// yields 403 for every request.
		Verifier Verifier
		// SignatureHeader names the signature header.
		SignatureHeader string
		// TimestampHeader names the optional timestamp header.
		TimestampHeader string
		// Store records accepted notifications; nil skips recording.
		Store store.StatusStore
		// Observers are notified after an event is accepted.
		Observers []Observer
		// MaxBodyBytes bounds the request body; zero defaults to 1 MiB.
		MaxBodyBytes int64
		// Now supplies timestamps for records; defaults to time.Now.
		Now func() time.Time
	}

	ack struct {
		Received   bool   `json:"received"`
		DeliveryID string `json:"delivery_id"`
		ResponseID string `json:"response_id"`
	}

	errBody struct {
		Error string `json:"error"`
	}
)

const (
	// DefaultSignatureHeader is the signature header name when unset.
	DefaultSignatureHeader = "X-Relay-Signature"
	// DefaultTimestampHeader is the timestamp header name when unset.
	DefaultTimestampHeader = "X-Relay-Timestamp"

	defaultMaxBodyBytes = 1 << 20
)

// ServeHTTP implements http.Handler. Response codes: 404 webhooks disabled,
// 403 no secret configured, 400 missing signature or malformed JSON, 401
// verification failure, 422 no correlating response ID, 200 with an
// acknowledgement body otherwise.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.Enabled {
		writeJSON(w, http.StatusNotFound, errBody{Error: "webhooks disabled"})
		return
	}
	if h.Verifier.Secret == "" {
		writeJSON(w, http.StatusForbidden, errBody{Error: "no webhook secret configured"})
		return
	}

	maxBytes := h.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "unreadable body"})
		return
	}

	sig := r.Header.Get(h.signatureHeader())
	if sig == "" {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "missing signature header"})
		return
	}

	res := h.Verifier.Verify(body, sig, r.Header.Get(h.timestampHeader()))
	if !res.Verified {
		log.Info(ctx, log.KV{K: "msg", V: "webhook signature rejected"})
		writeJSON(w, http.StatusUnauthorized, errBody{Error: "signature verification failed"})
		return
	}

	payload, err := jsonval.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "malformed JSON body"})
		return
	}

	responseID := extractResponseID(payload)
	if responseID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errBody{Error: "no response identifier in payload"})
		return
	}

	ev := Event{
		DeliveryID: uuid.NewString(),
		ResponseID: responseID,
		Type:       eventType(payload),
		Scheme:     res.Scheme,
		Payload:    payload,
	}
	h.record(ctx, ev)
	for _, obs := range h.Observers {
		if obs != nil {
			obs(ctx, ev)
		}
	}
	log.Debug(ctx,
		log.KV{K: "msg", V: "webhook accepted"},
		log.KV{K: "response_id", V: ev.ResponseID},
		log.KV{K: "scheme", V: string(ev.Scheme)},
		log.KV{K: "event_type", V: ev.Type})

	writeJSON(w, http.StatusOK, ack{Received: true, DeliveryID: ev.DeliveryID, ResponseID: ev.ResponseID})
}

func (h *Handler) record(ctx context.Context, ev Event) {
	if h.Store == nil {
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	rec := store.Record{
		ResponseID: ev.ResponseID,
		EventType:  ev.Type,
		DeliveryID: ev.DeliveryID,
		ReceivedAt: now(),
	}
	if err := h.Store.Put(ctx, rec); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "webhook store put failed"},
			log.KV{K: "response_id", V: ev.ResponseID})
	}
}

func (h *Handler) signatureHeader() string {
	if h.SignatureHeader != "" {
		return h.SignatureHeader
	}
	return DefaultSignatureHeader
}

func (h *Handler) timestampHeader() string {
	if h.TimestampHeader != "" {
		return h.TimestampHeader
	}
	return DefaultTimestampHeader
}

// extractResponseID tries the known payload locations for the correlating
// response identifier in order: response.id, data.response.id, response_id,
// id. The order mirrors the upstream provider's observed payload shapes;
// the first non-empty string wins.
func extractResponseID(payload jsonval.Value) string {
	candidates := [][]string{
		{"response", "id"},
		{"data", "response", "id"},
		{"response_id"},
		{"id"},
	}
	for _, path := range candidates {
		if v, ok := payload.Lookup(path...); ok {
			if s, err := v.String(); err == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

func eventType(payload jsonval.Value) string {
	if v, ok := payload.Lookup("type"); ok {
		return v.StringOr("")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
