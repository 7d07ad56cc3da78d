package payments_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reader-dict/website/internal/orders"
	"github.com/reader-dict/website/internal/payments"
	"github.com/reader-dict/website/internal/platform/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPurchaseID     = "4Y574543DL4671844"
	testCaptureID      = "7NW873794T343360M"
	testSubscriptionID = "I-HMKE7BTCS5MH"
)

// fakePayPal mimics the PayPal REST endpoints used by PayPalClient.
type fakePayPal struct {
	mu            sync.Mutex
	tokenCalls    int
	orderCalls    int
	revoked       map[string]bool
	purchases     map[string]any
	subscriptions map[string]any
}

func newFakePayPal(t *testing.T) (*fakePayPal, *httptest.Server) {
	t.Helper()
	f := &fakePayPal{
		revoked:       map[string]bool{},
		purchases:     map[string]any{testPurchaseID: purchaseFixture("COMPLETED", "COMPLETED", "eo-fr")},
		subscriptions: map[string]any{testSubscriptionID: subscriptionFixture("ACTIVE", testPlanID)},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if id, secret, ok := r.BasicAuth(); !ok || id != "client-id" || secret != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.tokenCalls++
		token := fmt.Sprintf("token-%d", f.tokenCalls)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})
	mux.HandleFunc("GET /v2/checkout/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.serve(w, r, f.purchases)
	})
	mux.HandleFunc("GET /v1/billing/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.serve(w, r, f.subscriptions)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePayPal) serve(w http.ResponseWriter, r *http.Request, objects map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || f.revoked[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	obj, ok := objects[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(obj)
}

func (f *fakePayPal) calls() (tokens, objects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.orderCalls
}

func purchaseFixture(status, captureStatus, sku string) map[string]any {
	return map[string]any{
		"status":      status,
		"update_time": "2025-03-30T19:59:05Z",
		"payer": map[string]any{
			"email_address": "alice@example.org",
			"name":          map[string]any{"given_name": "Alice"},
		},
		"purchase_units": []any{map[string]any{
			"items": []any{map[string]any{"sku": sku}},
			"payments": map[string]any{
				"captures": []any{map[string]any{"id": testCaptureID, "status": captureStatus}},
			},
		}},
	}
}

func subscriptionFixture(status, planID string) map[string]any {
	return map[string]any{
		"status":             status,
		"status_update_time": "2025-04-12T10:00:00Z",
		"plan_id":            planID,
		"subscriber": map[string]any{
			"email_address": "bob@example.org",
			"name":          map[string]any{"given_name": "Bob"},
		},
	}
}

func newPayPal(t *testing.T, f *fixture, apiURL string) *payments.PayPal {
	t.Helper()
	client := payments.NewPayPalClient(apiURL, "client-id", "client-secret", "www.reader-dict.com", http.DefaultClient, f.cache, telemetry.Discard())
	return payments.NewPayPal(nil, client, f.catalog, f.rec)
}

func purchaseCompleted(orderID string) []byte {
	return []byte(fmt.Sprintf(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":%q,"supplementary_data":{"related_ids":{"order_id":%q}}}}`, testCaptureID, orderID))
}

func subscriptionCompleted(subscriptionID string) []byte {
	return []byte(fmt.Sprintf(`{"event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-1","billing_agreement_id":%q}}`, subscriptionID))
}

func TestPayPal_RegistersPurchase(t *testing.T) {
	f := newFixture(t)
	_, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	res, err := provider.Handle(context.Background(), purchaseCompleted(testPurchaseID))
	require.NoError(t, err)
	assert.Equal(t, payments.StatusOK, res.Status)

	stored, ok := f.store.Get(testPurchaseID)
	require.True(t, ok)
	assert.True(t, stored.Equal(orders.Order{
		Dictionary:       "eo-fr",
		Email:            "alice@example.org",
		ID:               testPurchaseID,
		InvoiceID:        testCaptureID,
		Source:           "paypal",
		Status:           orders.StatusCompleted,
		StatusUpdateTime: "2025-03-30T19:59:05Z",
		User:             "Alice",
	}), "stored order: %+v", stored)
	assert.NotEmpty(t, stored.ULID)

	link, err := stored.DownloadLink(testPepper)
	require.NoError(t, err)
	assert.Equal(t, link, res.URL)
	assert.True(t, strings.HasPrefix(res.URL, "download/eo/fr?order="+testPurchaseID+"&checkpoint="))

	assert.Equal(t, []string{testPurchaseID}, f.materializer.ids)
	assert.Equal(t, 1, f.notifier.count())
}

func TestPayPal_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	fake, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	_, err := provider.Handle(context.Background(), purchaseCompleted(testPurchaseID))
	require.NoError(t, err)
	before := f.ordersFile(t)
	_, fetches := fake.calls()

	res, err := provider.Handle(context.Background(), purchaseCompleted(testPurchaseID))
	require.NoError(t, err)

	assert.Equal(t, payments.Result{Status: payments.StatusInfo, Message: "purchase ID already exists"}, res)
	assert.Equal(t, before, f.ordersFile(t))
	_, after := fake.calls()
	assert.Equal(t, fetches, after, "an existing order must not be fetched again")
	assert.Equal(t, 1, f.notifier.count())
}

func TestPayPal_RegistersSubscriptionByPlan(t *testing.T) {
	f := newFixture(t)
	_, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	res, err := provider.Handle(context.Background(), subscriptionCompleted(testSubscriptionID))
	require.NoError(t, err)
	assert.Equal(t, payments.StatusOK, res.Status)

	stored, ok := f.store.Get(testSubscriptionID)
	require.True(t, ok)
	assert.Equal(t, "eo-fr", stored.Dictionary)
	assert.Equal(t, testPlanID, stored.PlanID)
	assert.Equal(t, orders.StatusActive, stored.Status)
	assert.Equal(t, "Bob", stored.User)
	assert.Empty(t, f.materializer.ids, "subscriptions are not materialized")
}

func TestPayPal_RejectsUnknownDictionary(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakePayPal)
		body  []byte
	}{
		{
			name:  "purchase of a disabled dictionary",
			setup: func(p *fakePayPal) { p.purchases["ORDER-DE"] = purchaseFixture("COMPLETED", "COMPLETED", "eo-de") },
			body:  purchaseCompleted("ORDER-DE"),
		},
		{
			name:  "subscription to an unknown plan",
			setup: func(p *fakePayPal) { p.subscriptions["I-UNKNOWN"] = subscriptionFixture("ACTIVE", "P-UNKNOWN") },
			body:  subscriptionCompleted("I-UNKNOWN"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fake, srv := newFakePayPal(t)
			tt.setup(fake)
			provider := newPayPal(t, f, srv.URL)

			res, err := provider.Handle(context.Background(), tt.body)
			require.NoError(t, err)
			assert.Equal(t, payments.Result{Status: payments.StatusError, Message: "invalid, or disabled, dictionary"}, res)
			assert.Empty(t, f.store.LoadAll())
			assert.Zero(t, f.notifier.count())
		})
	}
}

func TestPayPal_UpstreamFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	_, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	_, err := provider.Handle(context.Background(), purchaseCompleted("ORDER-MISSING"))
	require.ErrorIs(t, err, payments.ErrUpstream)
	assert.Empty(t, f.store.LoadAll())
}

func TestPayPal_RefundMatchesInvoice(t *testing.T) {
	f := newFixture(t)
	_, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	_, err := provider.Handle(context.Background(), purchaseCompleted(testPurchaseID))
	require.NoError(t, err)

	refund := []byte(fmt.Sprintf(`{"event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"REFUND-1","invoice_id":%q}}`, testCaptureID))
	res, err := provider.Handle(context.Background(), refund)
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusOK, Message: "purchase status updated"}, res)

	stored, _ := f.store.Get(testPurchaseID)
	assert.Equal(t, orders.StatusRefunded, stored.Status)
	assert.Equal(t, orders.FormatTime(f.now), stored.StatusUpdateTime)
	assert.False(t, stored.StatusOK(f.now))

	before := f.ordersFile(t)
	f.now = f.now.Add(24 * time.Hour)
	res, err = provider.Handle(context.Background(), refund)
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusInfo, Message: "purchase unchanged"}, res)
	assert.Equal(t, before, f.ordersFile(t))
}

func TestPayPal_RefundFallsBackToOrderID(t *testing.T) {
	f := newFixture(t)
	_, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	_, err := provider.Handle(context.Background(), purchaseCompleted(testPurchaseID))
	require.NoError(t, err)

	refund := []byte(fmt.Sprintf(`{"event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"invoice_id":%q}}`, testPurchaseID))
	res, err := provider.Handle(context.Background(), refund)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusOK, res.Status)

	res, err = provider.Handle(context.Background(), []byte(`{"event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"invoice_id":"NOPE"}}`))
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusError, Message: "no such purchase"}, res)
}

func TestPayPal_SubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	_, srv := newFakePayPal(t)
	provider := newPayPal(t, f, srv.URL)

	_, err := provider.Handle(context.Background(), subscriptionCompleted(testSubscriptionID))
	require.NoError(t, err)

	suspend := []byte(fmt.Sprintf(`{"event_type":"BILLING.SUBSCRIPTION.SUSPENDED","resource":{"id":%q,"update_time":"2025-04-13T08:00:00+00:00"}}`, testSubscriptionID))
	res, err := provider.Handle(context.Background(), suspend)
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusOK, Message: "subscription status updated"}, res)

	stored, _ := f.store.Get(testSubscriptionID)
	assert.Equal(t, orders.StatusSuspended, stored.Status)
	assert.Equal(t, "2025-04-13T08:00:00+00:00", stored.StatusUpdateTime)
	assert.True(t, stored.StatusOK(f.now), "a suspended subscription keeps a grace month")

	cancel := []byte(fmt.Sprintf(`{"event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":%q,"status":"CANCELLED","status_update_time":"2025-04-14T08:00:00+00:00"}}`, testSubscriptionID))
	res, err = provider.Handle(context.Background(), cancel)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusOK, res.Status)

	stored, _ = f.store.Get(testSubscriptionID)
	assert.Equal(t, orders.StatusCancelled, stored.Status)
	assert.Equal(t, "2025-04-14T08:00:00+00:00", stored.StatusUpdateTime)

	res, err = provider.Handle(context.Background(), cancel)
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusInfo, Message: "subscription unchanged"}, res)

	res, err = provider.Handle(context.Background(), []byte(`{"event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"I-NOPE"}}`))
	require.NoError(t, err)
	assert.Equal(t, payments.Result{Status: payments.StatusError, Message: "no such subscription"}, res)
}

func TestPayPal_IgnoredEvents(t *testing.T) {
	f := newFixture(t)
	provider := newPayPal(t, f, "http://127.0.0.1:0")

	for _, eventType := range []string{"CHECKOUT.ORDER.APPROVED", "BILLING.SUBSCRIPTION.CREATED", "CUSTOMER.DISPUTE.CREATED"} {
		res, err := provider.Handle(context.Background(), []byte(`{"event_type":"`+eventType+`","resource":{}}`))
		require.NoError(t, err)
		assert.Equal(t, payments.Result{Status: payments.StatusInfo, Message: "event not interesting"}, res, eventType)
	}
	assert.Empty(t, f.store.LoadAll())
}

func TestPayPal_MalformedEvents(t *testing.T) {
	f := newFixture(t)
	provider := newPayPal(t, f, "http://127.0.0.1:0")

	for _, body := range []string{
		`not json`,
		`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{}}`,
		`{"event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{}}`,
	} {
		_, err := provider.Handle(context.Background(), []byte(body))
		assert.ErrorIs(t, err, payments.ErrMalformedEvent, body)
	}
}

func TestPayPalClient_CachesAndRefreshesToken(t *testing.T) {
	f := newFixture(t)
	fake, srv := newFakePayPal(t)
	client := payments.NewPayPalClient(srv.URL, "client-id", "client-secret", "www.reader-dict.com", http.DefaultClient, f.cache, telemetry.Discard())

	_, err := client.FetchOrder(context.Background(), orders.KindPurchase, testPurchaseID)
	require.NoError(t, err)
	_, err = client.FetchOrder(context.Background(), orders.KindSubscription, testSubscriptionID)
	require.NoError(t, err)

	tokens, objects := fake.calls()
	assert.Equal(t, 1, tokens)
	assert.Equal(t, 2, objects)

	fake.mu.Lock()
	fake.revoked["token-1"] = true
	fake.mu.Unlock()

	o, err := client.FetchOrder(context.Background(), orders.KindPurchase, testPurchaseID)
	require.NoError(t, err)
	assert.Equal(t, testCaptureID, o.InvoiceID)

	tokens, objects = fake.calls()
	assert.Equal(t, 2, tokens, "a rejected token is replaced once")
	assert.Equal(t, 4, objects)

	cached, err := f.cache.GetKey("paypal-access-token")
	require.NoError(t, err)
	assert.Equal(t, "token-2", cached)
}

func TestPayPalClient_GivesUpAfterOneRetry(t *testing.T) {
	f := newFixture(t)
	fake, srv := newFakePayPal(t)
	fake.revoked["token-1"] = true
	fake.revoked["token-2"] = true
	client := payments.NewPayPalClient(srv.URL, "client-id", "client-secret", "www.reader-dict.com", http.DefaultClient, f.cache, telemetry.Discard())

	_, err := client.FetchOrder(context.Background(), orders.KindPurchase, testPurchaseID)
	require.ErrorIs(t, err, payments.ErrUnauthorized)

	tokens, _ := fake.calls()
	assert.Equal(t, 2, tokens)
}

func TestPayPalClient_PrefersCaptureStatus(t *testing.T) {
	f := newFixture(t)
	fake, srv := newFakePayPal(t)
	fake.purchases["ORDER-PENDING"] = purchaseFixture("COMPLETED", "PENDING", "eo-fr")
	fake.purchases["ORDER-APPROVED"] = purchaseFixture("APPROVED", "COMPLETED", "eo-fr")
	client := payments.NewPayPalClient(srv.URL, "client-id", "client-secret", "www.reader-dict.com", http.DefaultClient, f.cache, telemetry.Discard())

	o, err := client.FetchOrder(context.Background(), orders.KindPurchase, "ORDER-PENDING")
	require.NoError(t, err)
	assert.Equal(t, "pending", o.Status)

	o, err = client.FetchOrder(context.Background(), orders.KindPurchase, "ORDER-APPROVED")
	require.NoError(t, err)
	assert.Equal(t, "approved", o.Status)
}
