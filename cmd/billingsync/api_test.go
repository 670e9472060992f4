package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/gateway"
	"github.com/dmitrymomot/billingsync/pkg/gateway/gatewaytest"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/metrics"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

type testEnv struct {
	provider *gatewaytest.Server
	handler  http.Handler
}

func newTestEnv(t *testing.T, probes map[string]httpserver.Probe) *testEnv {
	t.Helper()

	provider := gatewaytest.NewServer(
		gatewaytest.WithSubscription("sub_1", "inactive"),
		gatewaytest.WithSubscription("sub_2", "active"),
	)
	t.Cleanup(provider.Close)

	gw, err := gateway.NewHTTPGateway(gateway.HTTPConfig{BaseURL: provider.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector := metrics.MustNew(reg)

	cfg := subscription.DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond

	store := subscription.NewStore(
		gateway.Instrument(gw, gateway.WithObserver(collector)),
		subscription.WithConfig(cfg),
		subscription.WithMetrics(collector),
	)
	a := newAPI(store, logger.Discard())
	t.Cleanup(func() {
		a.close()
		_ = store.Close()
	})

	return &testEnv{provider: provider, handler: a.routes(reg, probes)}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) record(t *testing.T, method, path string, wantCode int) recordView {
	t.Helper()

	rec := e.do(t, method, path, "")
	require.Equal(t, wantCode, rec.Code, rec.Body.String())

	var v recordView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// trackSynced tracks id and waits for the first sync to land.
func (e *testEnv) trackSynced(t *testing.T, id, want string) {
	t.Helper()

	e.record(t, http.MethodPut, "/api/subscriptions/"+id, http.StatusOK)
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/subscriptions/"+id, "")
		var v recordView
		return rec.Code == http.StatusOK && json.NewDecoder(rec.Body).Decode(&v) == nil && v.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorView {
	t.Helper()
	var v errorView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAPI_Lifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_1", "inactive")

	v := env.record(t, http.MethodPost, "/api/subscriptions/sub_1/renew", http.StatusOK)
	assert.Equal(t, "active", v.Status)
	assert.Nil(t, v.LastError)
	assert.Equal(t, "active", env.provider.Status("sub_1"))

	v = env.record(t, http.MethodPost, "/api/subscriptions/sub_1/cancel", http.StatusOK)
	assert.Equal(t, "canceled", v.Status)

	rec := env.do(t, http.MethodPost, "/api/subscriptions/sub_1/cancel", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Code)

	assert.Equal(t, []string{"renew:sub_1:1"}, env.provider.IdempotencyKeys(gateway.OpRenew))
	assert.Equal(t, []string{"cancel:sub_1:3"}, env.provider.IdempotencyKeys(gateway.OpCancel))
}

func TestAPI_RenewFailureRollsBack(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_1", "inactive")
	env.provider.FailNext(gateway.OpRenew, 1, gatewaytest.Failure{StatusCode: http.StatusBadRequest, Message: "card declined"})

	rec := env.do(t, http.MethodPost, "/api/subscriptions/sub_1/renew", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(gateway.KindInvalidRequest), decodeError(t, rec).Code)

	v := env.record(t, http.MethodGet, "/api/subscriptions/sub_1", http.StatusOK)
	assert.Equal(t, "inactive", v.Status)
	require.NotNil(t, v.LastError)
	assert.Equal(t, string(gateway.KindInvalidRequest), v.LastError.Kind)
}

func TestAPI_Checkout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_1", "inactive")

	body := `{"productId":"price_pro","amount":990,"currency":"usd","customerId":"cus_1"}`
	rec := env.do(t, http.MethodPost, "/api/subscriptions/sub_1/checkout", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var h handoffView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&h))
	assert.Equal(t, "sub_1", h.SubscriptionID)
	assert.NotEmpty(t, h.SessionID)
	assert.True(t, strings.HasPrefix(h.ClientSecret, h.SessionID+"_secret_"))

	rec = env.do(t, http.MethodGet, "/api/subscriptions/sub_1/checkout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var again handoffView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&again))
	assert.Equal(t, h, again)

	// the record view never carries the secret
	rec = env.do(t, http.MethodGet, "/api/subscriptions/sub_1", "")
	assert.NotContains(t, rec.Body.String(), h.ClientSecret)
	assert.Contains(t, rec.Body.String(), `"checkoutPending":true`)

	rec = env.do(t, http.MethodPost, "/api/subscriptions/sub_1/renew", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.provider.SetStatus("sub_1", "active")
	v := env.record(t, http.MethodPost, "/api/subscriptions/sub_1/checkout/complete", http.StatusOK)
	assert.Equal(t, "active", v.Status)
	assert.False(t, v.CheckoutPending)

	rec = env.do(t, http.MethodGet, "/api/subscriptions/sub_1/checkout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_checkout", decodeError(t, rec).Code)
}

func TestAPI_CheckoutAbandon(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_1", "inactive")

	rec := env.do(t, http.MethodPost, "/api/subscriptions/sub_1/checkout", `{"productId":"price_pro","amount":990,"currency":"usd"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v := env.record(t, http.MethodPost, "/api/subscriptions/sub_1/checkout/abandon", http.StatusOK)
	assert.Equal(t, "inactive", v.Status)
	assert.False(t, v.CheckoutPending)
}

func TestAPI_CheckoutValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_1", "inactive")

	rec := env.do(t, http.MethodPost, "/api/subscriptions/sub_1/checkout", `{"productId":"price_pro"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/subscriptions/sub_1/checkout", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.provider.Calls(gateway.OpCreateCheckout))
}

func TestAPI_TrackListUntrack(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_2", "active")
	env.trackSynced(t, "sub_1", "inactive")

	// tracking again reuses the existing handle
	env.record(t, http.MethodPut, "/api/subscriptions/sub_1", http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []recordView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "sub_1", list[0].ID)
	assert.Equal(t, "sub_2", list[1].ID)

	rec = env.do(t, http.MethodDelete, "/api/subscriptions/sub_1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/subscriptions/sub_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_tracked", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodDelete, "/api/subscriptions/sub_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SyncUnknownSubscription(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.trackSynced(t, "sub_missing", "error")

	rec := env.do(t, http.MethodPost, "/api/subscriptions/sub_missing/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(gateway.KindNotFound), decodeError(t, rec).Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]httpserver.Probe{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	env.trackSynced(t, "sub_1", "inactive")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/readyz", "").Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "billingsync_gateway_call_duration_seconds")
	assert.Contains(t, rec.Body.String(), `billingsync_tracked_subscriptions 1`)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"empty id", subscription.ErrEmptyID, "bad_request", http.StatusBadRequest},
		{"not tracked", &subscription.OpError{Op: "get", ID: "x", Err: subscription.ErrNotTracked}, "not_tracked", http.StatusNotFound},
		{"conflict", errors.Join(subscription.ErrConflict, subscription.ErrCheckoutInProgress), "conflict", http.StatusConflict},
		{"cancelled", subscription.ErrCancelled, "unavailable", http.StatusServiceUnavailable},
		{"rate limited", gateway.NewError(gateway.KindRateLimited, gateway.OpRenew, "slow down", nil), "rate_limited", http.StatusTooManyRequests},
		{"network", errors.New("connection reset"), "network", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, status := classify(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status)
		})
	}
}
