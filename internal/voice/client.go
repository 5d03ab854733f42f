// Package voice is the client for the third-party voice assistant provider.
// It classifies every failure as transient, permanent or out-of-inventory so
// callers can apply retry and fallback policies without inspecting HTTP.
package voice

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zeebo/blake3"
)

// ErrNoInventory means the provider has no number for the requested area code.
var ErrNoInventory = errors.New("no phone number inventory for area code")

// Error is a classified provider failure.
type Error struct {
	Op        string
	Status    int
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("voice ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, 5xx and 429.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// ServerSecret is sent back by the provider on every function call.
	ServerSecret string
	Transport    http.RoundTripper
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *resty.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Transport != nil {
		rc.SetTransport(cfg.Transport)
	}
	return &Client{cfg: cfg, http: rc}
}

// IdempotencyKey derives a stable request key from its parts.
func IdempotencyKey(parts ...string) string {
	sum := blake3.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}

// AssistantSpec describes the assistant to create.
type AssistantSpec struct {
	TenantDomain string
	Name         string
	SystemPrompt string
	FirstMessage string
	// FunctionURL is the bridge endpoint for this tenant.
	FunctionURL    string
	IdempotencyKey string
}

type Assistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PhoneNumber struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	AssistantID string `json:"assistantId"`
}

type createAssistantRequest struct {
	Name         string            `json:"name"`
	FirstMessage string            `json:"firstMessage,omitempty"`
	Model        modelConfig       `json:"model"`
	Server       *serverConfig     `json:"server,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type modelConfig struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Tools    []tool    `json:"tools,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type serverConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

type buyNumberRequest struct {
	Provider        string `json:"provider"`
	AssistantID     string `json:"assistantId"`
	DesiredAreaCode string `json:"numberDesiredAreaCode,omitempty"`
	Name            string `json:"name,omitempty"`
}

type errorBody struct {
	Message any    `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// CreateAssistant creates one assistant. The idempotency key makes retries of
// the same request safe on the provider side.
func (c *Client) CreateAssistant(ctx context.Context, spec AssistantSpec) (*Assistant, error) {
	body := createAssistantRequest{
		Name:         spec.Name,
		FirstMessage: spec.FirstMessage,
		Model: modelConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Messages: []message{{Role: "system", Content: spec.SystemPrompt}},
			Tools:    catalogTools(),
		},
		Metadata: map[string]string{"tenantDomain": spec.TenantDomain},
	}
	if spec.FunctionURL != "" {
		body.Server = &serverConfig{URL: spec.FunctionURL, Secret: c.cfg.ServerSecret}
	}

	var out Assistant
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", spec.IdempotencyKey).
		SetBody(body).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/assistant")
	if err := classify("create assistant", resp, err); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &Error{Op: "create assistant", Status: resp.StatusCode(), Message: "response carried no id"}
	}
	return &out, nil
}

// DeleteAssistant removes an assistant. A 404 counts as already deleted.
func (c *Client) DeleteAssistant(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		SetPathParam("id", id).
		Delete("/assistant/{id}")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return classify("delete assistant", resp, err)
}

// BuyPhoneNumber acquires a number in areaCode and attaches it to the
// assistant. Returns ErrNoInventory (wrapped) when the area code is exhausted.
func (c *Client) BuyPhoneNumber(ctx context.Context, assistantID, areaCode, idempotencyKey string) (*PhoneNumber, error) {
	var out PhoneNumber
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(buyNumberRequest{
			Provider:        "vapi",
			AssistantID:     assistantID,
			DesiredAreaCode: areaCode,
		}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/phone-number")
	if err := classify("buy phone number", resp, err); err != nil {
		return nil, err
	}
	if out.Number == "" {
		return nil, &Error{Op: "buy phone number", Status: resp.StatusCode(), Message: "response carried no number"}
	}
	return &out, nil
}

func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		// Transport failures and timeouts never reached a decision upstream.
		return &Error{Op: op, Transient: true, Err: err}
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	msg := errorMessage(resp)
	e := &Error{Op: op, Status: status, Message: msg}
	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		e.Transient = true
	case noInventory(status, msg):
		e.Err = ErrNoInventory
	}
	return e
}

func errorMessage(resp *resty.Response) string {
	body, ok := resp.Error().(*errorBody)
	if !ok || body == nil {
		return truncate(resp.String(), 200)
	}
	if body.Code != "" && strings.Contains(strings.ToLower(body.Code), "inventory") {
		return body.Code
	}
	switch m := body.Message.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	}
	if body.Error != "" {
		return body.Error
	}
	return truncate(resp.String(), 200)
}

func noInventory(status int, msg string) bool {
	if status != http.StatusBadRequest && status != http.StatusConflict &&
		status != http.StatusUnprocessableEntity && status != http.StatusNotFound {
		return false
	}
	msg = strings.ToLower(msg)
	for _, hint := range []string{"inventory", "no available", "not available", "no numbers"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func catalogTools() []tool {
	return []tool{
		{
			Type: "function",
			Function: toolFunction{
				Name:        "get_product",
				Description: "Look up one product in the shop catalog by id.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"product_id": map[string]any{"type": "string"}},
					"required":   []string{"product_id"},
				},
			},
		},
		{
			Type: "function",
			Function: toolFunction{
				Name:        "search_products",
				Description: "Search the shop catalog by keyword.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
					"required":   []string{"query"},
				},
			},
		},
	}
}
