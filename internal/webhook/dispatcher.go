package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/signature"
	"github.com/mattjoyce/storegate/internal/store"
)

// Dispatcher verifies and routes webhook deliveries.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
}

func NewDispatcher(cfg Config, registry *Registry, logger *slog.Logger) *Dispatcher {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.TopicHeader == "" {
		cfg.TopicHeader = DefaultTopicHeader
	}
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = DefaultTenantHeader
	}
	if cfg.EventIDHeader == "" {
		cfg.EventIDHeader = DefaultEventIDHeader
	}
	if cfg.DomainSuffix == "" {
		cfg.DomainSuffix = store.DefaultDomainSuffix
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = log.WithComponent("webhook")
	}
	return &Dispatcher{cfg: cfg, registry: registry, logger: logger}
}

// Head answers liveness probes on the webhook path.
func (d *Dispatcher) Head(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ServeHTTP handles POST deliveries. It always answers 200.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.Header.Get(d.cfg.TopicHeader))
	eventID := r.Header.Get(d.cfg.EventIDHeader)
	if eventID == "" {
		eventID = uuid.NewString()
	}
	logger := d.logger.With("topic", topic, "event_id", eventID)

	// Read exactly once; the signature covers these bytes and nothing else.
	body, err := io.ReadAll(io.LimitReader(r.Body, d.cfg.MaxBodySize+1))
	if err != nil {
		logger.Error("webhook body read failed", "error", err)
		d.respond(w, Response{EventType: topic, Error: CodeReadFailed})
		return
	}
	if int64(len(body)) > d.cfg.MaxBodySize {
		logger.Warn("webhook payload too large", "limit", d.cfg.MaxBodySize)
		d.respond(w, Response{EventType: topic, Error: CodePayloadTooLarge})
		return
	}

	sig := r.Header.Get(d.cfg.SignatureHeader)
	if sig == "" {
		logger.Warn("webhook signature missing",
			"security_event", true,
			"header", d.cfg.SignatureHeader,
			"remote_addr", r.RemoteAddr,
		)
		d.respond(w, Response{EventType: topic, Error: CodeMissingSignature})
		return
	}
	if !signature.Verify(d.cfg.Secret, body, sig) {
		logger.Warn("webhook signature verification failed",
			"security_event", true,
			"signature_present", true,
			"body_bytes", len(body),
			"remote_addr", r.RemoteAddr,
		)
		d.respond(w, Response{EventType: topic, Error: CodeInvalidSignature})
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn("webhook payload malformed", "error", err)
		d.respond(w, Response{EventType: topic, Error: CodeMalformedPayload})
		return
	}
	if topic == "" {
		logger.Warn("webhook topic missing", "header", d.cfg.TopicHeader)
		d.respond(w, Response{Error: CodeMissingTopic})
		return
	}
	tenant := d.tenantDomain(payload, r.Header)
	if tenant == "" {
		logger.Warn("webhook tenant missing")
		d.respond(w, Response{EventType: topic, Error: CodeMissingTenant})
		return
	}
	logger = log.WithTopic(d.logger, topic, tenant).With("event_id", eventID)

	h, ok := d.registry.Lookup(topic)
	if !ok {
		logger.Info("webhook topic not registered")
		d.respond(w, Response{Success: true, EventType: topic})
		return
	}

	ev := Event{ID: eventID, Topic: Topic(topic), TenantDomain: tenant, Payload: body}
	if err := d.dispatch(r.Context(), h, ev); err != nil {
		logger.Error("webhook handler failed", "error", err)
		d.respond(w, Response{Success: true, EventType: topic, Error: CodeHandlerFailed})
		return
	}

	logger.Info("webhook processed")
	d.respond(w, Response{Success: true, EventType: topic, Processed: true})
}

func (d *Dispatcher) dispatch(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, ev)
}

// tenantDomain reads the shop-identifying field from the payload, falling back
// to the tenant header.
func (d *Dispatcher) tenantDomain(payload map[string]any, h http.Header) string {
	for _, key := range []string{"shop_domain", "myshop_domain", "domain"} {
		if v, ok := payload[key].(string); ok {
			if domain := store.NormalizeDomain(v, d.cfg.DomainSuffix); domain != "" {
				return domain
			}
		}
	}
	return store.NormalizeDomain(h.Get(d.cfg.TenantHeader), d.cfg.DomainSuffix)
}

func (d *Dispatcher) respond(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
