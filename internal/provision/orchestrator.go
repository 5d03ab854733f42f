// Package provision creates a voice assistant and phone number for a tenant
// exactly once, with bounded retries on transient provider failures, an
// area-code fallback for number acquisition, and a compensating delete when a
// number cannot be obtained for a freshly created assistant.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/storegate/internal/apierr"
	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/platform"
	"github.com/mattjoyce/storegate/internal/store"
	"github.com/mattjoyce/storegate/internal/voice"
)

const providerService = "voice"

var tracer = otel.Tracer("github.com/mattjoyce/storegate/internal/provision")

// Status of a tenant's provisioning.
type Status string

const (
	StatusAlreadyProvisioned Status = "already_provisioned"
	StatusProvisioned        Status = "provisioned"
	StatusNotProvisioned     Status = "not_provisioned"
)

// Result is what Provision and Status report.
type Result struct {
	Status      Status `json:"status"`
	AssistantID string `json:"assistantId,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Settings keys written into provisioning_settings.
const (
	SettingVoiceEnabled  = "voice_enabled"
	SettingAreaCode      = "area_code"
	SettingProvisionedAt = "provisioned_at"
	SettingOrphanedID    = "orphaned_assistant_id"
)

const placeholderTitle = "Store catalog"

type Config struct {
	// AreaCodes are tried in order when buying a number.
	AreaCodes    []string
	ContextLimit int
	// FunctionBaseURL is the public URL of the function-call bridge; the
	// tenant id is appended.
	FunctionBaseURL     string
	Retry               RetryPolicy
	CompensationTimeout time.Duration
	// RunTimeout bounds one provisioning run. The run is detached from the
	// callers waiting on it.
	RunTimeout time.Duration
}

// DefaultAreaCodes is the fallback order used when none is configured.
var DefaultAreaCodes = []string{"415", "646", "312", "737"}

// Orchestrator is safe for concurrent use. Concurrent calls for the same
// tenant share one run.
type Orchestrator struct {
	cfg      Config
	tenants  Tenants
	catalog  Catalog
	provider Provider
	validate *validator.Validate
	group    singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, tenants Tenants, catalog Catalog, provider Provider, logger *slog.Logger) *Orchestrator {
	if len(cfg.AreaCodes) == 0 {
		cfg.AreaCodes = DefaultAreaCodes
	}
	if cfg.ContextLimit <= 0 || cfg.ContextLimit > 20 {
		cfg.ContextLimit = 20
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy(voice.IsTransient)
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = voice.IsTransient
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 15 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = log.WithComponent("provision")
	}
	return &Orchestrator{
		cfg:      cfg,
		tenants:  tenants,
		catalog:  catalog,
		provider: provider,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
}

// ContextItem is one catalog entry fed to the assistant.
type ContextItem struct {
	Title       string `validate:"required"`
	Description string
	Price       string
}

// AssistantRequest is validated before any provider call.
type AssistantRequest struct {
	TenantID     string        `validate:"required"`
	TenantDomain string        `validate:"required,hostname"`
	Name         string        `validate:"required,max=100"`
	Context      []ContextItem `validate:"required,min=1,max=20,dive"`
}

// attempt is the retry/fallback cursor of one run, kept for logging.
type attempt struct {
	createAttempts int
	phoneAttempts  int
	areaCodeIndex  int
	lastErrClass   string
}

func (a *attempt) logAttrs() []any {
	return []any{
		"create_attempts", a.createAttempts,
		"phone_attempts", a.phoneAttempts,
		"area_code_index", a.areaCodeIndex,
		"last_error_class", a.lastErrClass,
	}
}

// Status reports the tenant's current provisioning state.
func (o *Orchestrator) Status(ctx context.Context, domain string) (*Result, error) {
	rec, err := o.tenants.GetTenantRecord(ctx, domain)
	if errors.Is(err, store.ErrTenantNotFound) {
		return nil, apierr.NotFound(apierr.CodeTenantNotFound, "tenant not found")
	}
	if err != nil {
		return nil, apierr.Internal(apierr.CodeInternal, "failed to load tenant", err)
	}
	if !rec.Provisioned() {
		return &Result{Status: StatusNotProvisioned}, nil
	}
	return &Result{Status: StatusProvisioned, AssistantID: rec.AssistantID, PhoneNumber: rec.PhoneNumber}, nil
}

// Provision creates the tenant's assistant and number, or returns the
// existing ones. Errors are *apierr.Error.
//
// A caller whose ctx ends stops waiting with a conflict error; the shared run
// keeps going under RunTimeout so the other callers still get its result.
func (o *Orchestrator) Provision(ctx context.Context, domain string) (*Result, error) {
	key := store.NormalizeDomain(domain, "")
	ch := o.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RunTimeout)
		defer cancel()
		return o.provision(rctx, domain)
	})

	select {
	case <-ctx.Done():
		o.logger.Info("caller stopped waiting for provisioning", "tenant_domain", key, "error", ctx.Err())
		e := apierr.Conflict(apierr.CodeProvisionInProgress, "provisioning is still running; check the provisioning status later")
		e.Err = ctx.Err()
		return nil, e
	case r := <-ch:
		if r.Shared {
			o.logger.Debug("provisioning call coalesced", "tenant_domain", key)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		return &res, nil
	}
}

func (o *Orchestrator) provision(ctx context.Context, domain string) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "provision.run", trace.WithAttributes(attribute.String("tenant.domain", domain)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apierr.As(err).Code)
		} else {
			span.SetAttributes(attribute.String("provision.status", string(res.Status)))
		}
		span.End()
	}()

	rec, err := o.tenants.GetTenantRecord(ctx, domain)
	if errors.Is(err, store.ErrTenantNotFound) {
		return nil, apierr.NotFound(apierr.CodeTenantNotFound, "tenant not found")
	}
	if err != nil {
		return nil, apierr.Internal(apierr.CodeInternal, "failed to load tenant", err)
	}
	logger := log.WithTenant(o.logger, rec.TenantDomain)

	if rec.Provisioned() {
		return &Result{Status: StatusAlreadyProvisioned, AssistantID: rec.AssistantID, PhoneNumber: rec.PhoneNumber}, nil
	}

	req := AssistantRequest{
		TenantID:     rec.ID,
		TenantDomain: rec.TenantDomain,
		Name:         assistantName(rec),
		Context:      o.assembleContext(ctx, rec.TenantDomain, logger),
	}
	if err := o.validate.Struct(req); err != nil {
		return nil, apierr.Validation(apierr.CodeConfiguration, "provisioning configuration is incomplete: "+err.Error())
	}

	cur := &attempt{}
	run := uuid.NewString()

	assistant, err := o.createAssistant(ctx, req, run, cur)
	if err != nil {
		logger.Error("assistant creation failed", append(cur.logAttrs(), "error", err)...)
		return nil, err
	}
	logger.Info("assistant created", "assistant_id", assistant.ID, "attempts", cur.createAttempts)

	number, areaCode, err := o.buyNumber(ctx, assistant.ID, cur)
	if err != nil {
		logger.Error("phone number acquisition failed", append(cur.logAttrs(), "error", err)...)
		o.compensate(ctx, rec, assistant.ID, logger)
		return nil, err
	}

	settings := maps.Clone(rec.ProvisioningSettings)
	if settings == nil {
		settings = map[string]any{}
	}
	settings[SettingVoiceEnabled] = true
	settings[SettingAreaCode] = areaCode
	settings[SettingProvisionedAt] = o.now().UTC().Format(time.RFC3339)

	if err := o.tenants.UpsertTenantRecord(ctx, rec.TenantDomain, store.TenantFields{
		AssistantID:          &assistant.ID,
		PhoneNumber:          &number.Number,
		ProvisioningSettings: settings,
	}); err != nil {
		logger.Error("provisioned resources not saved",
			"assistant_id", assistant.ID,
			"phone_number", number.Number,
			"error", err,
		)
		return nil, apierr.Internal(apierr.CodeProvisionedNotSaved,
			fmt.Sprintf("assistant %s and number %s were created but could not be saved", assistant.ID, number.Number), err)
	}

	logger.Info("tenant provisioned", append(cur.logAttrs(), "assistant_id", assistant.ID, "area_code", areaCode)...)
	return &Result{Status: StatusProvisioned, AssistantID: assistant.ID, PhoneNumber: number.Number}, nil
}

// assembleContext never fails: missing credentials or an unavailable catalog
// degrade to a single placeholder item.
func (o *Orchestrator) assembleContext(ctx context.Context, domain string, logger *slog.Logger) []ContextItem {
	placeholder := []ContextItem{{
		Title:       placeholderTitle,
		Description: "No products are published yet. Offer to take a message.",
	}}

	token, err := o.tenants.AccessToken(ctx, domain)
	if err != nil {
		logger.Warn("no catalog credential, using placeholder context", "error", err)
		return placeholder
	}
	products, err := o.catalog.ListRecentProducts(ctx, domain, token, o.cfg.ContextLimit)
	if err != nil {
		logger.Warn("catalog unavailable, using placeholder context", "error", err)
		return placeholder
	}

	items := make([]ContextItem, 0, min(len(products), o.cfg.ContextLimit))
	for _, p := range products {
		if len(items) == o.cfg.ContextLimit {
			break
		}
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		items = append(items, contextItem(p))
	}
	if len(items) == 0 {
		return placeholder
	}
	return items
}

func contextItem(p platform.Product) ContextItem {
	item := ContextItem{Title: p.Title, Description: p.ProductType}
	if len(p.Variants) > 0 {
		item.Price = p.Variants[0].Price
	}
	return item
}

func (o *Orchestrator) createAssistant(ctx context.Context, req AssistantRequest, run string, cur *attempt) (*voice.Assistant, error) {
	spec := voice.AssistantSpec{
		TenantDomain:   req.TenantDomain,
		Name:           req.Name,
		SystemPrompt:   systemPrompt(req),
		FirstMessage:   "Hi, thanks for calling " + req.Name + ". How can I help?",
		IdempotencyKey: voice.IdempotencyKey(req.TenantDomain, "assistant", run),
	}
	if o.cfg.FunctionBaseURL != "" {
		spec.FunctionURL = strings.TrimRight(o.cfg.FunctionBaseURL, "/") + "/" + req.TenantID
	}

	var out *voice.Assistant
	n, err := o.cfg.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		a, err := o.provider.CreateAssistant(ctx, spec)
		if err != nil {
			cur.lastErrClass = errClass(err)
			return err
		}
		out = a
		return nil
	})
	cur.createAttempts = n
	if err != nil {
		if voice.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apierr.External(providerService, apierr.CodeProviderUnavailable, "voice provider unavailable", err)
		}
		return nil, apierr.Validation(apierr.CodeConfiguration, "voice provider rejected the assistant configuration")
	}
	return out, nil
}

func (o *Orchestrator) buyNumber(ctx context.Context, assistantID string, cur *attempt) (*voice.PhoneNumber, string, error) {
	var out *voice.PhoneNumber
	seq := FallbackSequence(o.cfg.AreaCodes)

	code, err := seq.Try(ctx, func(ctx context.Context, areaCode string) error {
		key := voice.IdempotencyKey(assistantID, "phone", areaCode)
		n, err := o.cfg.Retry.Do(ctx, func(ctx context.Context, _ int) error {
			pn, err := o.provider.BuyPhoneNumber(ctx, assistantID, areaCode, key)
			if err != nil {
				cur.lastErrClass = errClass(err)
				return err
			}
			out = pn
			return nil
		})
		cur.phoneAttempts += n
		if err != nil {
			cur.areaCodeIndex++
		}
		return err
	}, func(err error) bool {
		return errors.Is(err, voice.ErrNoInventory)
	})
	if err != nil {
		if voice.IsTransient(err) {
			return nil, "", apierr.External(providerService, apierr.CodeProviderUnavailable, "voice provider unavailable", err)
		}
		return nil, "", apierr.External(providerService, apierr.CodePhoneUnavailable, "no phone number available in any preferred area code", err)
	}
	return out, code, nil
}

// compensate deletes an assistant that has no number. If the delete fails the
// id is recorded so an operator can clean it up; the tenant stays unprovisioned.
func (o *Orchestrator) compensate(ctx context.Context, rec *store.TenantRecord, assistantID string, logger *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CompensationTimeout)
	defer cancel()

	_, err := o.cfg.Retry.Do(cctx, func(ctx context.Context, _ int) error {
		return o.provider.DeleteAssistant(ctx, assistantID)
	})
	if err == nil {
		logger.Info("orphaned assistant deleted", "assistant_id", assistantID)
		return
	}

	logger.Error("orphaned assistant could not be deleted", "assistant_id", assistantID, "error", err)
	settings := maps.Clone(rec.ProvisioningSettings)
	if settings == nil {
		settings = map[string]any{}
	}
	settings[SettingOrphanedID] = assistantID
	if werr := o.tenants.UpsertTenantRecord(cctx, rec.TenantDomain, store.TenantFields{ProvisioningSettings: settings}); werr != nil {
		logger.Error("orphaned assistant id not recorded", "assistant_id", assistantID, "error", werr)
	}
}

const maxNameRunes = 80

func assistantName(rec *store.TenantRecord) string {
	name := strings.TrimSpace(rec.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(rec.TenantDomain, ".")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return name
}

func systemPrompt(req AssistantRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the phone assistant for %s. Answer questions about the store's products.\n", req.Name)
	b.WriteString("Use the get_product and search_products tools for live details.\n\nProducts:\n")
	for _, it := range req.Context {
		b.WriteString("- ")
		b.WriteString(it.Title)
		if it.Price != "" {
			b.WriteString(" (")
			b.WriteString(it.Price)
			b.WriteString(")")
		}
		if it.Description != "" {
			b.WriteString(": ")
			b.WriteString(it.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func errClass(err error) string {
	switch {
	case errors.Is(err, voice.ErrNoInventory):
		return "no_inventory"
	case voice.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
