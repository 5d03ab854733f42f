// Package oauth runs the tenant install flow: authorization initiation with an
// anti-CSRF cookie pair, then the callback that verifies state and signature,
// exchanges the code, and persists the session and tenant record before the
// tenant is let into the app.
package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/storegate/internal/apierr"
	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/platform"
	"github.com/mattjoyce/storegate/internal/signature"
	"github.com/mattjoyce/storegate/internal/store"
)

const (
	StateCookie = "oauth_state"
	ShopCookie  = "oauth_shop"

	platformService = "platform"
)

var errReadBackMismatch = errors.New("session read-back did not match the written token")

// Exchanger is the platform side of the flow.
type Exchanger interface {
	AuthorizeURL(domain, state, redirectURI string) string
	ExchangeCode(ctx context.Context, domain, code string) (*platform.AccessGrant, error)
}

// SessionStore persists and reads back the offline session.
type SessionStore interface {
	UpsertSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, domain string, mode store.Mode) (*store.Session, error)
}

// TenantWriter writes the tenant record, possibly through several clients.
type TenantWriter interface {
	UpsertTenantRecord(ctx context.Context, domain string, f store.TenantFields) (string, error)
}

type Config struct {
	ClientSecret string
	RedirectURI  string
	// LandingPath is where a completed install is sent.
	LandingPath     string
	DomainSuffix    string
	CookieTTL       time.Duration
	InsecureCookies bool
	TrialUsageLimit int64
}

// Flow serves GET /auth and GET /auth/callback.
type Flow struct {
	cfg       Config
	exchanger Exchanger
	sessions  SessionStore
	tenants   TenantWriter
	logger    *slog.Logger
	newState  func() string
}

func New(cfg Config, ex Exchanger, sessions SessionStore, tenants TenantWriter, logger *slog.Logger) *Flow {
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/app"
	}
	if cfg.DomainSuffix == "" {
		cfg.DomainSuffix = store.DefaultDomainSuffix
	}
	if cfg.CookieTTL <= 0 {
		cfg.CookieTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = log.WithComponent("oauth")
	}
	return &Flow{
		cfg:       cfg,
		exchanger: ex,
		sessions:  sessions,
		tenants:   tenants,
		logger:    logger,
		newState:  uuid.NewString,
	}
}

// ErrorBody is the JSON shape of a failed install step.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Begin starts an install: it stashes state and shop in short-lived cookies
// and redirects to the platform consent screen.
func (f *Flow) Begin(w http.ResponseWriter, r *http.Request) {
	domain := store.NormalizeDomain(r.URL.Query().Get("shop"), f.cfg.DomainSuffix)
	if domain == "" {
		f.fail(w, apierr.Validation(apierr.CodeMissingParams, "missing shop parameter"))
		return
	}
	if !store.ValidDomain(domain, f.cfg.DomainSuffix) {
		f.fail(w, apierr.Validation(apierr.CodeInvalidDomain, "invalid shop domain"))
		return
	}

	state := f.newState()
	f.setCookie(w, StateCookie, state, f.cfg.CookieTTL)
	f.setCookie(w, ShopCookie, domain, f.cfg.CookieTTL)

	log.WithTenant(f.logger, domain).Info("install started")
	http.Redirect(w, r, f.exchanger.AuthorizeURL(domain, state, f.cfg.RedirectURI), http.StatusFound)
}

type callbackParams struct {
	code   string
	hmac   string
	shop   string
	state  string
	host   string
	domain string
}

// Callback completes an install. Every step is terminal on failure and the
// tenant is only redirected into the app once both writes are durable.
func (f *Flow) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	p, aerr := f.params(query)
	if aerr != nil {
		f.fail(w, aerr)
		return
	}
	logger := log.WithTenant(f.logger, p.domain)

	if aerr := f.checkState(r, p); aerr != nil {
		logger.Warn("install state check failed", "code", aerr.Code)
		f.fail(w, aerr)
		return
	}

	if !signature.VerifyQuery(f.cfg.ClientSecret, query) {
		logger.Warn("install callback signature invalid")
		f.fail(w, apierr.Validation(apierr.CodeInvalidSignature, "invalid signature"))
		return
	}

	grant, err := f.exchanger.ExchangeCode(ctx, p.domain, p.code)
	if err != nil {
		logger.Error("token exchange failed", "error", err)
		f.fail(w, apierr.External(platformService, apierr.CodeTokenExchangeFailed, "token exchange failed", err))
		return
	}

	if err := f.persistSession(ctx, p.domain, grant); err != nil {
		logger.Error("session persist failed", "error", err)
		f.fail(w, apierr.Internal(apierr.CodeSessionPersistFailed, "session could not be saved", err))
		return
	}

	client, err := f.tenants.UpsertTenantRecord(ctx, p.domain, store.TenantFields{
		AccessToken: &grant.AccessToken,
		Defaults:    store.TrialDefaults(f.cfg.TrialUsageLimit),
	})
	if err != nil {
		logger.Error("tenant record persist failed", "error", err)
		f.fail(w, apierr.Internal(apierr.CodeTenantPersistFailed, "tenant record could not be saved", err))
		return
	}

	f.clearCookies(w)
	logger.Info("install completed", "tenant_client", client, "scope_count", len(grant.Scope))

	q := url.Values{}
	q.Set("shop", p.domain)
	if p.host != "" {
		q.Set("host", p.host)
	}
	http.Redirect(w, r, f.cfg.LandingPath+"?"+q.Encode(), http.StatusFound)
}

func (f *Flow) params(q url.Values) (*callbackParams, *apierr.Error) {
	p := &callbackParams{
		code:  q.Get("code"),
		hmac:  q.Get("hmac"),
		shop:  q.Get("shop"),
		state: q.Get("state"),
		host:  q.Get("host"),
	}
	if p.code == "" || p.hmac == "" || p.shop == "" || p.state == "" {
		return nil, apierr.Validation(apierr.CodeMissingParams, "missing required parameters")
	}
	p.domain = store.NormalizeDomain(p.shop, f.cfg.DomainSuffix)
	if !store.ValidDomain(p.domain, f.cfg.DomainSuffix) {
		return nil, apierr.Validation(apierr.CodeInvalidDomain, "invalid shop domain")
	}
	return p, nil
}

func (f *Flow) checkState(r *http.Request, p *callbackParams) *apierr.Error {
	stateCookie, err := r.Cookie(StateCookie)
	if err != nil || stateCookie.Value == "" {
		return apierr.Validation(apierr.CodeInvalidState, "missing state cookie")
	}
	shopCookie, err := r.Cookie(ShopCookie)
	if err != nil || shopCookie.Value == "" {
		return apierr.Validation(apierr.CodeInvalidState, "missing shop cookie")
	}
	if subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(p.state)) != 1 {
		return apierr.Validation(apierr.CodeInvalidState, "state mismatch")
	}
	if store.NormalizeDomain(shopCookie.Value, f.cfg.DomainSuffix) != p.domain {
		return apierr.Validation(apierr.CodeInvalidState, "shop mismatch")
	}
	return nil
}

// persistSession writes the offline session and reads it back. A read-back
// that does not return the token just written counts as a failed write.
func (f *Flow) persistSession(ctx context.Context, domain string, grant *platform.AccessGrant) error {
	sess := &store.Session{
		Shop:        domain,
		Mode:        store.ModeOffline,
		AccessToken: grant.AccessToken,
		Scope:       grant.Scope,
	}
	if err := f.sessions.UpsertSession(ctx, sess); err != nil {
		return err
	}

	got, err := f.sessions.GetSession(ctx, domain, store.ModeOffline)
	if err != nil {
		return err
	}
	if got.ID != store.SessionID(domain, store.ModeOffline) ||
		subtle.ConstantTimeCompare([]byte(got.AccessToken), []byte(grant.AccessToken)) != 1 {
		return errReadBackMismatch
	}
	return nil
}

func (f *Flow) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   !f.cfg.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (f *Flow) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{StateCookie, ShopCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/auth",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   !f.cfg.InsecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// fail writes {error, code}. Upstream failures during install surface as 500.
func (f *Flow) fail(w http.ResponseWriter, e *apierr.Error) {
	status := e.Status()
	if e.Kind == apierr.KindExternal {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: e.Message, Code: e.Code})
}
