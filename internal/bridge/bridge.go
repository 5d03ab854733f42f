// Package bridge answers live function calls from the voice provider by
// reading the tenant's product catalog with the tenant's stored credential.
// Authenticated requests always get 200 with one result per call; failures
// are reported inside the result.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/platform"
	"github.com/mattjoyce/storegate/internal/store"
)

const maxBodySize = 256 << 10

// Headers that may carry the caller secret, in precedence order.
var secretHeaders = []string{"X-Caller-Secret", "X-Vapi-Secret", "Authorization"}

// Error codes carried in Result.ErrorCode.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeTenantNotFound   = "TENANT_NOT_FOUND"
	CodeNoCredential     = "NO_CREDENTIAL"
	CodeUnknownFunction  = "UNKNOWN_FUNCTION"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeNotFound         = "NOT_FOUND"
	CodeReauthRequired   = "REAUTH_REQUIRED"
	CodeUpstream         = "UPSTREAM_ERROR"
)

// Tenants resolves the tenant and its credential.
type Tenants interface {
	ResolveTenant(ctx context.Context, ref string) (*store.TenantRecord, error)
	AccessToken(ctx context.Context, domain string) (string, error)
}

// Catalog is the read-only upstream the functions call.
type Catalog interface {
	GetProduct(ctx context.Context, domain, token, id string) (*platform.Product, error)
	SearchProducts(ctx context.Context, domain, token, keyword string, limit int) ([]platform.Product, error)
}

type Config struct {
	Secret      string
	SearchLimit int
}

// Bridge serves POST /functions/{tenantId}.
type Bridge struct {
	cfg       Config
	tenants   Tenants
	functions map[string]Function
	logger    *slog.Logger
}

func New(cfg Config, tenants Tenants, catalog Catalog, logger *slog.Logger) *Bridge {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if logger == nil {
		logger = log.WithComponent("bridge")
	}
	return &Bridge{
		cfg:       cfg,
		tenants:   tenants,
		functions: catalogFunctions(catalog, cfg.SearchLimit),
		logger:    logger,
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.authenticated(r) {
		b.logger.Warn("function call rejected", "remote_addr", r.RemoteAddr)
		writeResults(w, http.StatusUnauthorized, []Result{{Error: "unauthorized", ErrorCode: CodeUnauthorized}})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeResults(w, http.StatusOK, []Result{{Error: "request body unreadable", ErrorCode: CodeBadRequest}})
		return
	}
	calls, err := parseCalls(body)
	if err != nil {
		b.logger.Warn("function call body invalid", "error", err)
		writeResults(w, http.StatusOK, []Result{{Error: err.Error(), ErrorCode: CodeBadRequest}})
		return
	}

	ctx := r.Context()
	tenantRef := chi.URLParam(r, "tenantId")
	inv, failure := b.invocation(ctx, tenantRef)
	if failure != nil {
		b.logger.Warn("function call tenant unavailable", "tenant", tenantRef, "code", failure.ErrorCode)
		results := make([]Result, len(calls))
		for i, c := range calls {
			results[i] = *failure
			results[i].ToolCallID = c.ID
		}
		writeResults(w, http.StatusOK, results)
		return
	}

	logger := log.WithTenant(b.logger, inv.domain)
	results := make([]Result, 0, len(calls))
	for _, c := range calls {
		res := b.invoke(ctx, inv, c)
		if res.ErrorCode != "" {
			logger.Warn("function call failed", "function", c.Name, "code", res.ErrorCode)
		} else {
			logger.Info("function call served", "function", c.Name)
		}
		results = append(results, res)
	}
	writeResults(w, http.StatusOK, results)
}

// authenticated checks the first secret header that is present.
func (b *Bridge) authenticated(r *http.Request) bool {
	if b.cfg.Secret == "" {
		return false
	}
	for _, h := range secretHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if h == "Authorization" {
			token, ok := strings.CutPrefix(v, "Bearer ")
			if !ok {
				return false
			}
			v = strings.TrimSpace(token)
		}
		return subtle.ConstantTimeCompare([]byte(v), []byte(b.cfg.Secret)) == 1
	}
	return false
}

type invocation struct {
	domain string
	token  string
}

func (b *Bridge) invocation(ctx context.Context, ref string) (*invocation, *Result) {
	if strings.TrimSpace(ref) == "" {
		return nil, &Result{Error: "tenant id missing", ErrorCode: CodeTenantNotFound}
	}
	rec, err := b.tenants.ResolveTenant(ctx, ref)
	if err != nil {
		if !errors.Is(err, store.ErrTenantNotFound) && !errors.Is(err, store.ErrEmptyDomain) {
			b.logger.Error("tenant lookup failed", "tenant", ref, "error", err)
		}
		return nil, &Result{Error: "tenant not found", ErrorCode: CodeTenantNotFound}
	}
	token, err := b.tenants.AccessToken(ctx, rec.TenantDomain)
	if err != nil {
		return nil, &Result{Error: "no stored credential for tenant", ErrorCode: CodeNoCredential}
	}
	return &invocation{domain: rec.TenantDomain, token: token}, nil
}

func (b *Bridge) invoke(ctx context.Context, inv *invocation, c Call) (res Result) {
	res.ToolCallID = c.ID
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("function panicked", "function", c.Name, "panic", fmt.Sprint(rec))
			res = Result{ToolCallID: c.ID, Error: "internal error", ErrorCode: CodeUpstream}
		}
	}()

	fn, ok := b.functions[c.Name]
	if !ok {
		res.Error = fmt.Sprintf("unknown function %q", c.Name)
		res.ErrorCode = CodeUnknownFunction
		return res
	}

	out, err := fn(ctx, inv.domain, inv.token, c.Arguments)
	if err != nil {
		res.ErrorCode, res.Error = classify(err)
		return res
	}
	raw, err := json.Marshal(out)
	if err != nil {
		res.ErrorCode, res.Error = CodeUpstream, "result could not be encoded"
		return res
	}
	res.Result = string(raw)
	return res
}

func classify(err error) (string, string) {
	var herr *platform.HTTPError
	var aerr *argumentError
	switch {
	case errors.As(err, &aerr):
		return CodeInvalidArguments, aerr.Error()
	case errors.Is(err, platform.ErrInvalidID):
		return CodeInvalidArguments, "invalid product id"
	case errors.Is(err, platform.ErrNotFound):
		return CodeNotFound, "product not found"
	case errors.As(err, &herr) && (herr.Status == http.StatusUnauthorized || herr.Status == http.StatusForbidden):
		return CodeReauthRequired, "store credential rejected; the merchant must reinstall"
	case errors.As(err, &herr):
		return CodeUpstream, fmt.Sprintf("catalog request failed with status %d", herr.Status)
	default:
		return CodeUpstream, "catalog unavailable"
	}
}

func writeResults(w http.ResponseWriter, status int, results []Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Results: results})
}
