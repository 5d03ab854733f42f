// Package auth verifies the embedded app's session tokens. The platform signs
// them with the app's client secret (HS256); the tenant is taken from the
// dest claim.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mattjoyce/storegate/internal/apierr"
	"github.com/mattjoyce/storegate/internal/store"
)

var (
	ErrMissingToken = errors.New("missing Authorization header")
	ErrTokenFormat  = errors.New("invalid Authorization header format")
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// Config holds the app credentials session tokens are checked against.
type Config struct {
	ClientID     string
	ClientSecret string
	DomainSuffix string
	// Leeway absorbs clock skew between the platform and this host.
	Leeway time.Duration
}

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
}

// Principal is the authenticated caller of a tenant-scoped request.
type Principal struct {
	Tenant    string
	Subject   string
	SessionID string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// TenantFromContext returns the tenant domain of the authenticated request.
func TenantFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Tenant
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrTokenFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type Verifier struct {
	cfg Config
	now func() time.Time
}

func NewVerifier(cfg Config) *Verifier {
	if cfg.Leeway <= 0 {
		cfg.Leeway = 10 * time.Second
	}
	return &Verifier{cfg: cfg, now: time.Now}
}

// Verify parses and validates a session token.
func (v *Verifier) Verify(raw string) (Principal, error) {
	if v.cfg.ClientSecret == "" {
		return Principal{}, fmt.Errorf("%w: no client secret configured", ErrInvalidToken)
	}

	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.ClientID != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.ClientID))
	}
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(v.cfg.ClientSecret), nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Principal{}, ErrTokenExpired
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	tenant, err := v.tenant(claims)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Tenant: tenant, Subject: claims.Subject, SessionID: claims.SID}, nil
}

// tenant derives the domain from dest and requires iss to name the same host.
func (v *Verifier) tenant(c Claims) (string, error) {
	dest, err := url.Parse(c.Dest)
	if err != nil || dest.Host == "" {
		return "", fmt.Errorf("%w: dest claim missing or malformed", ErrInvalidToken)
	}
	domain := store.NormalizeDomain(dest.Host, v.cfg.DomainSuffix)
	if !store.ValidDomain(domain, v.cfg.DomainSuffix) {
		return "", fmt.Errorf("%w: dest %q is not a tenant domain", ErrInvalidToken, dest.Host)
	}
	if c.Issuer != "" {
		iss, err := url.Parse(c.Issuer)
		if err != nil || store.NormalizeDomain(iss.Host, v.cfg.DomainSuffix) != domain {
			return "", fmt.Errorf("%w: issuer does not match dest", ErrInvalidToken)
		}
	}
	return domain, nil
}

// Middleware rejects requests without a valid session token and stores the
// Principal on the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := ExtractBearerToken(r)
		if err != nil {
			apierr.WriteEnvelope(w, apierr.Authentication(apierr.CodeUnauthorized, err.Error()))
			return
		}
		p, err := v.Verify(raw)
		if err != nil {
			msg := "invalid session token"
			if errors.Is(err, ErrTokenExpired) {
				msg = "session token expired"
			}
			apierr.WriteEnvelope(w, apierr.Authentication(apierr.CodeUnauthorized, msg))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
