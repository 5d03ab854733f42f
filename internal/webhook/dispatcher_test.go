package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/signature"
	"github.com/mattjoyce/storegate/internal/storage"
	"github.com/mattjoyce/storegate/internal/store"
)

const testSecret = "whsec-test"

type spyHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *spyHandler) Handle(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *spyHandler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newSpyDispatcher(t *testing.T) (*Dispatcher, map[Topic]*spyHandler) {
	t.Helper()
	reg := NewRegistry()
	spies := map[Topic]*spyHandler{}
	for t2 := range knownTopics {
		spies[t2] = &spyHandler{}
		require.NoError(t, reg.Register(t2, spies[t2]))
	}
	return NewDispatcher(Config{Secret: testSecret}, reg, log.Discard()), spies
}

func totalCalls(spies map[Topic]*spyHandler) int {
	n := 0
	for _, s := range spies {
		n += s.count()
	}
	return n
}

func deliver(t *testing.T, d *Dispatcher, topic string, body []byte, sig string) Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	if topic != "" {
		req.Header.Set(DefaultTopicHeader, topic)
	}
	if sig != "" {
		req.Header.Set(DefaultSignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sign(body []byte) string { return signature.Sign(testSecret, body) }

func TestDispatchOrdersCreateCarriesTenant(t *testing.T) {
	t.Parallel()
	d, spies := newSpyDispatcher(t)
	body := []byte(`{"shop_domain":"foo.myshop.com"}`)

	resp := deliver(t, d, "orders/create", body, sign(body))
	assert.True(t, resp.Success)
	assert.True(t, resp.Processed)
	assert.Equal(t, "orders/create", resp.EventType)
	assert.Empty(t, resp.Error)

	spy := spies[TopicOrdersCreate]
	require.Equal(t, 1, spy.count())
	assert.Equal(t, "foo.myshop.com", spy.events[0].TenantDomain)
	assert.Equal(t, TopicOrdersCreate, spy.events[0].Topic)
	assert.Equal(t, body, []byte(spy.events[0].Payload))
	assert.Equal(t, 1, totalCalls(spies))
}

func TestMutatedBodyInvokesNoHandler(t *testing.T) {
	t.Parallel()
	body := []byte(`{"shop_domain":"foo.myshop.com","id":1001}`)
	sig := sign(body)

	for i := range body {
		d, spies := newSpyDispatcher(t)
		mutated := bytes.Clone(body)
		mutated[i] ^= 0x01

		resp := deliver(t, d, "orders/create", mutated, sig)
		assert.False(t, resp.Success)
		assert.Equal(t, CodeInvalidSignature, resp.Error)
		assert.Zero(t, totalCalls(spies), "byte %d", i)
	}
}

func TestUnknownTopicAcknowledged(t *testing.T) {
	t.Parallel()
	d, spies := newSpyDispatcher(t)
	body := []byte(`{"shop_domain":"foo.myshop.com"}`)

	resp := deliver(t, d, "bogus/topic", body, sign(body))
	assert.True(t, resp.Success)
	assert.False(t, resp.Processed)
	assert.Empty(t, resp.Error)
	assert.Zero(t, totalCalls(spies))
}

func TestRejectionsStillAnswer200(t *testing.T) {
	t.Parallel()
	good := []byte(`{"shop_domain":"foo.myshop.com"}`)

	tests := []struct {
		name  string
		topic string
		body  []byte
		sig   string
		code  string
	}{
		{"missing signature", "orders/create", good, "", CodeMissingSignature},
		{"garbage signature", "orders/create", good, "not-hex", CodeInvalidSignature},
		{"malformed json", "orders/create", []byte(`{"shop_domain":`), sign([]byte(`{"shop_domain":`)), CodeMalformedPayload},
		{"missing topic", "", good, sign(good), CodeMissingTopic},
		{"missing tenant", "orders/create", []byte(`{"id":1}`), sign([]byte(`{"id":1}`)), CodeMissingTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, spies := newSpyDispatcher(t)
			resp := deliver(t, d, tt.topic, tt.body, tt.sig)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Error)
			assert.Zero(t, totalCalls(spies))
		})
	}
}

func TestPayloadTooLarge(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(Config{Secret: testSecret, MaxBodySize: 16}, NewRegistry(), log.Discard())
	body := []byte(`{"shop_domain":"foo.myshop.com"}`)

	resp := deliver(t, d, "orders/create", body, sign(body))
	assert.Equal(t, CodePayloadTooLarge, resp.Error)
}

func TestTenantFallbacks(t *testing.T) {
	t.Parallel()
	d, spies := newSpyDispatcher(t)

	body := []byte(`{"myshop_domain":"Bar.MyShop.com"}`)
	deliver(t, d, "shop/update", body, sign(body))

	body = []byte(`{"name":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set(DefaultTopicHeader, "shop/update")
	req.Header.Set(DefaultSignatureHeader, "sha256="+sign(body))
	req.Header.Set(DefaultTenantHeader, "baz.myshop.com")
	d.ServeHTTP(httptest.NewRecorder(), req)

	spy := spies[TopicShopUpdate]
	require.Equal(t, 2, spy.count())
	assert.Equal(t, "bar.myshop.com", spy.events[0].TenantDomain)
	assert.Equal(t, "baz.myshop.com", spy.events[1].TenantDomain)
}

func TestHandlerFailureAndPanicAcknowledged(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	require.NoError(t, reg.Register(TopicOrdersCreate, &spyHandler{err: errors.New("boom")}))
	require.NoError(t, reg.Register(TopicShopUpdate, HandlerFunc(func(context.Context, Event) error {
		panic("handler bug")
	})))
	d := NewDispatcher(Config{Secret: testSecret}, reg, log.Discard())
	body := []byte(`{"shop_domain":"foo.myshop.com"}`)

	resp := deliver(t, d, "orders/create", body, sign(body))
	assert.True(t, resp.Success)
	assert.False(t, resp.Processed)
	assert.Equal(t, CodeHandlerFailed, resp.Error)

	resp = deliver(t, d, "shop/update", body, sign(body))
	assert.True(t, resp.Success)
	assert.Equal(t, CodeHandlerFailed, resp.Error)
}

func TestHeadAlwaysOK(t *testing.T) {
	d := NewDispatcher(Config{Secret: testSecret}, nil, log.Discard())
	rec := httptest.NewRecorder()
	d.Head(rec, httptest.NewRequest(http.MethodHead, "/webhooks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegistryIsClosed(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Topic("bogus/topic"), &spyHandler{}))
	assert.Error(t, reg.Register(TopicOrdersCreate, nil))

	_, ok := reg.Lookup("orders/create")
	assert.False(t, ok)
	require.NoError(t, reg.Register(TopicOrdersCreate, &spyHandler{}))
	_, ok = reg.Lookup("orders/create")
	assert.True(t, ok)
	assert.Len(t, reg.Topics(), 1)
}

func TestDefaultHandlersUpdateTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db, store.Config{})
	require.NoError(t, st.UpsertTenantRecord(ctx, "foo.myshop.com", store.TenantFields{Defaults: store.TrialDefaults(10)}))

	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg, st, log.Discard()))
	assert.Len(t, reg.Topics(), len(knownTopics))
	d := NewDispatcher(Config{Secret: testSecret}, reg, log.Discard())

	send := func(topic, body string) Response {
		return deliver(t, d, topic, []byte(body), sign([]byte(body)))
	}

	resp := send("app_subscriptions/update", `{"shop_domain":"foo.myshop.com","app_subscription":{"name":"Pro","status":"ACTIVE"}}`)
	require.True(t, resp.Processed, resp.Error)
	rec, err := st.GetTenantRecord(ctx, "foo.myshop.com")
	require.NoError(t, err)
	assert.Equal(t, store.SubscriptionActive, rec.SubscriptionStatus)
	assert.Equal(t, "pro", rec.Plan)

	resp = send("shop/update", `{"shop_domain":"foo.myshop.com","name":"Foo Goods"}`)
	require.True(t, resp.Processed)

	resp = send("app/uninstalled", `{"shop_domain":"foo.myshop.com"}`)
	require.True(t, resp.Processed)

	rec, err = st.GetTenantRecord(ctx, "foo.myshop.com")
	require.NoError(t, err)
	assert.Equal(t, "Foo Goods", rec.DisplayName)
	assert.Equal(t, store.SubscriptionCancelled, rec.SubscriptionStatus)

	resp = send("orders/create", `{"shop_domain":"foo.myshop.com","id":5001,"total_price":"12.50","currency":"USD"}`)
	assert.True(t, resp.Processed)

	resp = send("customers/redact", `{"shop_domain":"foo.myshop.com","customer":{"id":1}}`)
	assert.True(t, resp.Processed)

	resp = send("app_subscriptions/update", `{"shop_domain":"foo.myshop.com","app_subscription":{"status":"WEIRD"}}`)
	assert.True(t, resp.Success)
	assert.False(t, resp.Processed)
	assert.True(t, strings.HasPrefix(resp.Error, "HANDLER"))
}

func TestDefaultHandlersIgnoreUnknownTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db, store.Config{})

	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg, st, log.Discard()))
	d := NewDispatcher(Config{Secret: testSecret}, reg, log.Discard())

	for topic, body := range map[string]string{
		"app/uninstalled":          `{"shop_domain":"ghost.myshop.com"}`,
		"shop/update":              `{"shop_domain":"ghost.myshop.com","name":"Ghost Goods"}`,
		"app_subscriptions/update": `{"shop_domain":"ghost.myshop.com","app_subscription":{"name":"Pro","status":"ACTIVE"}}`,
	} {
		resp := deliver(t, d, topic, []byte(body), sign([]byte(body)))
		assert.True(t, resp.Success, topic)
		assert.True(t, resp.Processed, topic)
		assert.Empty(t, resp.Error, topic)
	}

	_, err = st.GetTenantRecord(ctx, "ghost.myshop.com")
	assert.ErrorIs(t, err, store.ErrTenantNotFound)

	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tenants`))
	assert.Zero(t, n)
}
