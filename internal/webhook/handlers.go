package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/store"
)

// TenantUpdater applies partial writes to existing tenant records. It returns
// store.ErrTenantNotFound for a tenant that never installed.
type TenantUpdater interface {
	UpdateTenantRecord(ctx context.Context, domain string, f store.TenantFields) error
}

// RegisterDefaults wires the built-in handlers.
func RegisterDefaults(reg *Registry, tenants TenantUpdater, logger *slog.Logger) error {
	if logger == nil {
		logger = log.WithComponent("webhook")
	}
	h := &builtin{tenants: tenants, logger: logger}
	bindings := map[Topic]Handler{
		TopicAppUninstalled:       HandlerFunc(h.appUninstalled),
		TopicShopUpdate:           HandlerFunc(h.shopUpdate),
		TopicSubscriptionUpdate:   HandlerFunc(h.subscriptionUpdate),
		TopicOrdersCreate:         HandlerFunc(h.ordersCreate),
		TopicCustomersDataRequest: HandlerFunc(h.compliance),
		TopicCustomersRedact:      HandlerFunc(h.compliance),
		TopicShopRedact:           HandlerFunc(h.compliance),
	}
	for t, handler := range bindings {
		if err := reg.Register(t, handler); err != nil {
			return err
		}
	}
	logger.Debug("webhook handlers registered", "topics", reg.Topics())
	return nil
}

type builtin struct {
	tenants TenantUpdater
	logger  *slog.Logger
}

// update writes f for an installed tenant. Events for unknown tenants are
// acknowledged without creating a record; ok reports whether a row changed.
func (b *builtin) update(ctx context.Context, ev Event, f store.TenantFields) (ok bool, err error) {
	err = b.tenants.UpdateTenantRecord(ctx, ev.TenantDomain, f)
	if errors.Is(err, store.ErrTenantNotFound) {
		b.logger.Info("webhook for unknown tenant ignored",
			"tenant_domain", ev.TenantDomain,
			"topic", ev.Topic,
			"event_id", ev.ID,
		)
		return false, nil
	}
	return err == nil, err
}

func (b *builtin) appUninstalled(ctx context.Context, ev Event) error {
	status := store.SubscriptionCancelled
	ok, err := b.update(ctx, ev, store.TenantFields{SubscriptionStatus: &status})
	if err != nil {
		return fmt.Errorf("mark uninstalled: %w", err)
	}
	if !ok {
		return nil
	}
	b.logger.Info("tenant uninstalled", "tenant_domain", ev.TenantDomain, "event_id", ev.ID)
	return nil
}

type shopPayload struct {
	Name string `json:"name"`
}

func (b *builtin) shopUpdate(ctx context.Context, ev Event) error {
	var p shopPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode shop payload: %w", err)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil
	}
	if _, err := b.update(ctx, ev, store.TenantFields{DisplayName: &name}); err != nil {
		return fmt.Errorf("update shop name: %w", err)
	}
	return nil
}

type subscriptionPayload struct {
	AppSubscription struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"app_subscription"`
}

func (b *builtin) subscriptionUpdate(ctx context.Context, ev Event) error {
	var p subscriptionPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode subscription payload: %w", err)
	}
	status, ok := store.ParseSubscriptionStatus(p.AppSubscription.Status)
	if !ok {
		return fmt.Errorf("unknown subscription status %q", p.AppSubscription.Status)
	}

	fields := store.TenantFields{SubscriptionStatus: &status}
	if plan := strings.ToLower(strings.TrimSpace(p.AppSubscription.Name)); plan != "" {
		fields.Plan = &plan
	}
	ok, err := b.update(ctx, ev, fields)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if !ok {
		return nil
	}
	b.logger.Info("subscription updated", "tenant_domain", ev.TenantDomain, "status", status)
	return nil
}

type orderPayload struct {
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	TotalPrice string      `json:"total_price"`
	Currency   string      `json:"currency"`
}

func (b *builtin) ordersCreate(_ context.Context, ev Event) error {
	var p orderPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	b.logger.Info("order received",
		"tenant_domain", ev.TenantDomain,
		"order_id", p.ID.String(),
		"total", p.TotalPrice,
		"currency", p.Currency,
	)
	return nil
}

// Compliance topics carry customer data; only acknowledge them. The gateway
// stores no customer records.
func (b *builtin) compliance(_ context.Context, ev Event) error {
	b.logger.Info("compliance request acknowledged",
		"tenant_domain", ev.TenantDomain,
		"topic", ev.Topic,
		"event_id", ev.ID,
	)
	return nil
}
