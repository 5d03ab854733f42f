package provision

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/storegate/internal/apierr"
	"github.com/mattjoyce/storegate/internal/log"
	"github.com/mattjoyce/storegate/internal/platform"
	"github.com/mattjoyce/storegate/internal/provision/mocks"
	"github.com/mattjoyce/storegate/internal/storage"
	"github.com/mattjoyce/storegate/internal/store"
	"github.com/mattjoyce/storegate/internal/voice"
)

const tenant = "shop-a.myshop.com"

func noSleep(context.Context, time.Duration) error { return nil }

func testRetry() RetryPolicy {
	p := DefaultRetryPolicy(voice.IsTransient)
	p.Sleep = noSleep
	return p
}

type harness struct {
	orch     *Orchestrator
	store    *store.Store
	provider *mocks.MockProvider
	catalog  *mocks.MockCatalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db, store.Config{})

	ctx := context.Background()
	require.NoError(t, st.UpsertTenantRecord(ctx, tenant, store.TenantFields{
		DisplayName: store.Ptr("Shop A"),
		AccessToken: store.Ptr("shpat_a"),
		Defaults:    store.TrialDefaults(100),
	}))

	h := &harness{
		store:    st,
		provider: mocks.NewMockProvider(ctrl),
		catalog:  mocks.NewMockCatalog(ctrl),
	}
	h.orch = New(Config{
		AreaCodes:       []string{"415", "646", "312"},
		FunctionBaseURL: "https://gw.example.com/functions/",
		Retry:           testRetry(),
	}, st, h.catalog, h.provider, log.Discard())
	return h
}

func (h *harness) products(p ...platform.Product) {
	h.catalog.EXPECT().ListRecentProducts(gomock.Any(), tenant, "shpat_a", 20).Return(p, nil).AnyTimes()
}

func noInventory(code string) error {
	return &voice.Error{Op: "buy phone number", Status: http.StatusBadRequest, Message: "no available numbers in " + code, Err: voice.ErrNoInventory}
}

func transient() error {
	return &voice.Error{Op: "create assistant", Status: http.StatusServiceUnavailable, Transient: true}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var aerr *apierr.Error
	require.ErrorAs(t, err, &aerr)
	return aerr.Code
}

func TestProvisionIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.products(platform.Product{ID: 1, Title: "Tee"})

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(&voice.Assistant{ID: "asst_1"}, nil).Times(1)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "415", gomock.Any()).
		Return(&voice.PhoneNumber{ID: "pn_1", Number: "+14155550100"}, nil).Times(1)

	first, err := h.orch.Provision(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, StatusProvisioned, first.Status)
	assert.Equal(t, "asst_1", first.AssistantID)

	second, err := h.orch.Provision(ctx, "Shop-A.MyShop.com/")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProvisioned, second.Status)
	assert.Equal(t, "asst_1", second.AssistantID)
	assert.Equal(t, "+14155550100", second.PhoneNumber)

	rec, err := h.store.GetTenantRecord(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, true, rec.ProvisioningSettings[SettingVoiceEnabled])
	assert.Equal(t, "415", rec.ProvisioningSettings[SettingAreaCode])
}

func TestProvisionFallsBackToNextAreaCode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.products(platform.Product{ID: 1, Title: "Tee"})

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(&voice.Assistant{ID: "asst_1"}, nil)
	gomock.InOrder(
		h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "415", gomock.Any()).Return(nil, noInventory("415")),
		h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "646", gomock.Any()).
			Return(&voice.PhoneNumber{ID: "pn_2", Number: "+16465550100"}, nil),
	)
	h.provider.EXPECT().DeleteAssistant(gomock.Any(), gomock.Any()).Times(0)

	res, err := h.orch.Provision(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "+16465550100", res.PhoneNumber)

	rec, err := h.store.GetTenantRecord(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "+16465550100", rec.PhoneNumber)
	assert.Equal(t, "646", rec.ProvisioningSettings[SettingAreaCode])
	assert.NotContains(t, rec.ProvisioningSettings, SettingOrphanedID)
}

func TestProvisionCompensatesWhenNoNumber(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.products()

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(&voice.Assistant{ID: "asst_1"}, nil)
	for _, code := range []string{"415", "646", "312"} {
		h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", code, gomock.Any()).Return(nil, noInventory(code))
	}
	h.provider.EXPECT().DeleteAssistant(gomock.Any(), "asst_1").Return(nil).Times(1)

	_, err := h.orch.Provision(ctx, tenant)
	require.Error(t, err)
	assert.Equal(t, apierr.CodePhoneUnavailable, codeOf(t, err))

	rec, err := h.store.GetTenantRecord(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, rec.Provisioned())
	assert.Empty(t, rec.AssistantID)
	assert.NotContains(t, rec.ProvisioningSettings, SettingOrphanedID)
}

func TestProvisionRecordsOrphanWhenCompensationFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.products()

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(&voice.Assistant{ID: "asst_9"}, nil)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_9", gomock.Any(), gomock.Any()).
		Return(nil, &voice.Error{Op: "buy phone number", Status: http.StatusPaymentRequired, Message: "billing"})
	h.provider.EXPECT().DeleteAssistant(gomock.Any(), "asst_9").
		Return(&voice.Error{Op: "delete assistant", Status: http.StatusForbidden}).Times(1)

	_, err := h.orch.Provision(ctx, tenant)
	require.Error(t, err)

	rec, err := h.store.GetTenantRecord(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, rec.Provisioned())
	assert.Equal(t, "asst_9", rec.ProvisioningSettings[SettingOrphanedID])

	// A later successful run keeps the orphan marker for the operator.
	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(&voice.Assistant{ID: "asst_10"}, nil)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_10", "415", gomock.Any()).
		Return(&voice.PhoneNumber{Number: "+14155550111"}, nil)
	_, err = h.orch.Provision(ctx, tenant)
	require.NoError(t, err)

	rec, err = h.store.GetTenantRecord(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, rec.Provisioned())
	assert.Equal(t, "asst_9", rec.ProvisioningSettings[SettingOrphanedID])
}

func TestProvisionRetriesTransientCreate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.products(platform.Product{ID: 1, Title: "Tee"})

	var keys []string
	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, spec voice.AssistantSpec) (*voice.Assistant, error) {
			keys = append(keys, spec.IdempotencyKey)
			if len(keys) < 3 {
				return nil, transient()
			}
			return &voice.Assistant{ID: "asst_1"}, nil
		}).Times(3)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "415", gomock.Any()).
		Return(&voice.PhoneNumber{Number: "+14155550100"}, nil)

	_, err := h.orch.Provision(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1], "retries reuse the idempotency key")
	assert.Equal(t, keys[1], keys[2])
}

func TestProvisionTransientExhaustion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.products()

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(nil, transient()).Times(3)

	_, err := h.orch.Provision(context.Background(), tenant)
	assert.Equal(t, apierr.CodeProviderUnavailable, codeOf(t, err))
}

func TestProvisionPermanentCreateFailureNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.products()

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).
		Return(nil, &voice.Error{Op: "create assistant", Status: http.StatusBadRequest, Message: "name too long"}).Times(1)

	_, err := h.orch.Provision(context.Background(), tenant)
	assert.Equal(t, apierr.CodeConfiguration, codeOf(t, err))
}

type failingTenants struct {
	*store.Store
}

func (f failingTenants) UpsertTenantRecord(context.Context, string, store.TenantFields) error {
	return errors.New("database is locked")
}

func TestProvisionedButNotSaved(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.products()
	orch := New(Config{AreaCodes: []string{"415"}, Retry: testRetry()}, failingTenants{h.store}, h.catalog, h.provider, log.Discard())

	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).Return(&voice.Assistant{ID: "asst_1"}, nil)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "415", gomock.Any()).Return(&voice.PhoneNumber{Number: "+14155550100"}, nil)

	_, err := orch.Provision(context.Background(), tenant)
	require.Error(t, err)
	assert.Equal(t, apierr.CodeProvisionedNotSaved, codeOf(t, err))
	assert.Contains(t, err.Error(), "asst_1")
}

func TestProvisionUsesPlaceholderWhenCatalogDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.catalog.EXPECT().ListRecentProducts(gomock.Any(), tenant, "shpat_a", 20).
		Return(nil, &platform.HTTPError{Op: "list products", Status: http.StatusBadGateway})

	var spec voice.AssistantSpec
	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s voice.AssistantSpec) (*voice.Assistant, error) {
			spec = s
			return &voice.Assistant{ID: "asst_1"}, nil
		})
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&voice.PhoneNumber{Number: "+14155550100"}, nil)

	_, err := h.orch.Provision(context.Background(), tenant)
	require.NoError(t, err)
	assert.Contains(t, spec.SystemPrompt, placeholderTitle)
	assert.Equal(t, "Shop A", spec.Name)
	assert.True(t, strings.HasSuffix(spec.FunctionURL, "/functions/"+mustTenantID(t, h)))
}

func mustTenantID(t *testing.T, h *harness) string {
	t.Helper()
	rec, err := h.store.GetTenantRecord(context.Background(), tenant)
	require.NoError(t, err)
	return rec.ID
}

func TestAssembleContextCapsItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var many []platform.Product
	for i := 0; i < 30; i++ {
		many = append(many, platform.Product{ID: int64(i), Title: "P", Variants: []platform.Variant{{Price: "9.00"}}})
	}
	many = append(many, platform.Product{ID: 99})
	h.products(many...)

	items := h.orch.assembleContext(context.Background(), tenant, log.Discard())
	assert.Len(t, items, 20)
	assert.Equal(t, "9.00", items[0].Price)
}

func TestProvisionUnknownTenant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.orch.Provision(context.Background(), "nobody.myshop.com")
	assert.Equal(t, apierr.CodeTenantNotFound, codeOf(t, err))
}

func TestConcurrentProvisionCreatesOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.products()

	release := make(chan struct{})
	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, voice.AssistantSpec) (*voice.Assistant, error) {
			<-release
			return &voice.Assistant{ID: "asst_1"}, nil
		}).Times(1)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "415", gomock.Any()).
		Return(&voice.PhoneNumber{Number: "+14155550100"}, nil).Times(1)

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.Provision(context.Background(), tenant)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "asst_1", results[i].AssistantID)
	}
}

func TestProvisionSurvivesCancelledFirstCaller(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.products()

	started := make(chan struct{})
	release := make(chan struct{})
	runErr := make(chan error, 1)
	h.provider.EXPECT().CreateAssistant(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ voice.AssistantSpec) (*voice.Assistant, error) {
			close(started)
			<-release
			runErr <- ctx.Err()
			return &voice.Assistant{ID: "asst_1"}, nil
		}).Times(1)
	h.provider.EXPECT().BuyPhoneNumber(gomock.Any(), "asst_1", "415", gomock.Any()).
		Return(&voice.PhoneNumber{Number: "+14155550100"}, nil).Times(1)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.orch.Provision(firstCtx, tenant)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res *Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := h.orch.Provision(context.Background(), tenant)
		second <- outcome{res, err}
	}()

	cancelFirst()
	err := <-firstErr
	require.Error(t, err)
	assert.Equal(t, apierr.CodeProvisionInProgress, codeOf(t, err))
	assert.Equal(t, http.StatusConflict, apierr.As(err).Status())
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "asst_1", got.res.AssistantID)
	assert.NoError(t, <-runErr)

	rec, err := h.store.GetTenantRecord(context.Background(), tenant)
	require.NoError(t, err)
	assert.True(t, rec.Provisioned())
	assert.Equal(t, "+14155550100", rec.PhoneNumber)
}

func TestAssistantNameTruncatesOnRuneBoundary(t *testing.T) {
	name := assistantName(&store.TenantRecord{DisplayName: strings.Repeat("é", 79) + "日本語ショップ"})
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, 80, utf8.RuneCountInString(name))
	assert.True(t, strings.HasSuffix(name, "é日"))

	short := assistantName(&store.TenantRecord{DisplayName: "  Café Ünïcode  "})
	assert.Equal(t, "Café Ünïcode", short)

	fromDomain := assistantName(&store.TenantRecord{TenantDomain: "shop-a.myshop.com"})
	assert.Equal(t, "shop-a", fromDomain)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Status(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, StatusNotProvisioned, res.Status)

	require.NoError(t, h.store.UpsertTenantRecord(ctx, tenant, store.TenantFields{
		AssistantID: store.Ptr("asst_1"),
		PhoneNumber: store.Ptr("+14155550100"),
	}))
	res, err = h.orch.Status(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, StatusProvisioned, res.Status)
	assert.Equal(t, "+14155550100", res.PhoneNumber)

	_, err = h.orch.Status(ctx, "nobody.myshop.com")
	assert.Equal(t, apierr.CodeTenantNotFound, codeOf(t, err))
}
