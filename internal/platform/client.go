// Package platform talks to the shop platform on behalf of a tenant: the
// authorization-code exchange and the read-only catalog endpoints the
// function-call bridge and the provisioning context need.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const tokenHeader = "X-Shop-Access-Token"

var (
	ErrNotFound      = errors.New("platform resource not found")
	ErrNoAccessToken = errors.New("token response carried no access_token")
	ErrInvalidID     = errors.New("invalid product id")
)

// HTTPError is a non-2xx platform response.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("platform %s: status %d: %s", e.Op, e.Status, truncate(e.Body, 200))
}

// Config carries the app credentials and endpoint shape.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	APIVersion   string
	// AdminBaseURL replaces https://<tenant-domain> for every call when set.
	AdminBaseURL string
	Timeout      time.Duration
	Transport    http.RoundTripper
}

// Client is safe for concurrent use; construct once at startup.
type Client struct {
	cfg  Config
	http *resty.Client
}

func New(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	// No automatic retries: authorization codes are single-use and catalog
	// reads are on a live call path.
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.Transport != nil {
		rc.SetTransport(cfg.Transport)
	}
	return &Client{cfg: cfg, http: rc}
}

// ClientID is the public app key.
func (c *Client) ClientID() string { return c.cfg.ClientID }

func (c *Client) baseURL(domain string) string {
	if c.cfg.AdminBaseURL != "" {
		return strings.TrimRight(c.cfg.AdminBaseURL, "/")
	}
	return "https://" + domain
}

// AuthorizeURL builds the platform consent URL for an install.
func (c *Client) AuthorizeURL(domain, state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("scope", strings.Join(c.cfg.Scopes, ","))
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return c.baseURL(domain) + "/admin/oauth/authorize?" + q.Encode()
}

// AccessGrant is the result of a successful code exchange.
type AccessGrant struct {
	AccessToken string
	Scope       []string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// ExchangeCode trades an authorization code for an offline access token.
func (c *Client) ExchangeCode(ctx context.Context, domain, code string) (*AccessGrant, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"code":          code,
		}).
		SetResult(&out).
		Post(c.baseURL(domain) + "/admin/oauth/access_token")
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Op: "token exchange", Status: resp.StatusCode(), Body: resp.String()}
	}
	if out.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	var scope []string
	for _, s := range strings.Split(out.Scope, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scope = append(scope, s)
		}
	}
	return &AccessGrant{AccessToken: out.AccessToken, Scope: scope}, nil
}

func (c *Client) get(ctx context.Context, op, domain, token, path string, query url.Values, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(tokenHeader, token).
		SetQueryParamsFromValues(query).
		SetResult(out).
		Get(c.baseURL(domain) + "/admin/api/" + c.cfg.APIVersion + path)
	if err != nil {
		return fmt.Errorf("platform %s: %w", op, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.IsError() {
		return &HTTPError{Op: op, Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// ListRecentProducts returns up to limit products, most recently updated first.
func (c *Client) ListRecentProducts(ctx context.Context, domain, token string, limit int) ([]Product, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(clampLimit(limit)))
	q.Set("order", "updated_at desc")

	var out productsEnvelope
	if err := c.get(ctx, "list products", domain, token, "/products.json", q, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// GetProduct looks up one product by id.
func (c *Client) GetProduct(ctx context.Context, domain, token, id string) (*Product, error) {
	id = strings.TrimSpace(id)
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	var out productEnvelope
	if err := c.get(ctx, "get product", domain, token, "/products/"+id+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out.Product, nil
}

// SearchProducts does a keyword search over product titles.
func (c *Client) SearchProducts(ctx context.Context, domain, token, keyword string, limit int) ([]Product, error) {
	q := url.Values{}
	q.Set("title", strings.TrimSpace(keyword))
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	var out productsEnvelope
	if err := c.get(ctx, "search products", domain, token, "/products.json", q, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 10
	case n > 250:
		return 250
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
