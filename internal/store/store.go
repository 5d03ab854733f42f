// Package store persists per-tenant authorization sessions and the
// gateway-owned tenant records. All lookups normalize the tenant domain first;
// all writes are single-statement upserts keyed on the tenant.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrNoCredential      = errors.New("no stored credential for tenant")
	ErrEmptyDomain       = errors.New("tenant domain is empty")
	ErrPartialProvision  = errors.New("assistant_id and phone_number must be written together")
	ErrEmptyAccessToken  = errors.New("access token is empty")
	ErrOnlineWithoutExp  = errors.New("online session requires an expiry")
	ErrUnknownSessionKey = errors.New("unknown session mode")
)

// Store reads and writes sessions and tenant records in one database.
type Store struct {
	db     *sqlx.DB
	name   string
	suffix string
	now    func() time.Time
}

// Config names a store client and fixes the canonical domain suffix.
type Config struct {
	// Name identifies the client in logs ("primary", "fallback").
	Name         string
	DomainSuffix string
}

func New(db *sqlx.DB, cfg Config) *Store {
	if cfg.Name == "" {
		cfg.Name = "primary"
	}
	if cfg.DomainSuffix == "" {
		cfg.DomainSuffix = DefaultDomainSuffix
	}
	return &Store{
		db:     db,
		name:   cfg.Name,
		suffix: cfg.DomainSuffix,
		now:    time.Now,
	}
}

// Name identifies this client in logs.
func (s *Store) Name() string { return s.name }

// Normalize applies the store's canonical domain rules.
func (s *Store) Normalize(domain string) string {
	return NormalizeDomain(domain, s.suffix)
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AccessToken resolves the upstream credential for a tenant, preferring the
// offline session token over the legacy token on the tenant record.
func (s *Store) AccessToken(ctx context.Context, domain string) (string, error) {
	sess, err := s.GetSession(ctx, domain, ModeOffline)
	switch {
	case err == nil && sess.AccessToken != "":
		return sess.AccessToken, nil
	case err != nil && !errors.Is(err, ErrSessionNotFound):
		return "", err
	}

	rec, err := s.GetTenantRecord(ctx, domain)
	if errors.Is(err, ErrTenantNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", err
	}
	if rec.AccessToken == "" {
		return "", ErrNoCredential
	}
	return rec.AccessToken, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func joinScope(scope []string) string {
	out := make([]string, 0, len(scope))
	for _, s := range scope {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ",")
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	parts := strings.Split(scope, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
