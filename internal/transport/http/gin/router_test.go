package httpgin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/metrics"
	memrepo "github.com/kirinyoku/tixpay/internal/repository/memory"
	"github.com/kirinyoku/tixpay/internal/service"
	"github.com/kirinyoku/tixpay/internal/service/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminKey = "admin-key"
	testSecret   = "whsec"
)

type testEnv struct {
	router  *gin.Engine
	failing atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{}

	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req struct {
			Reference string `json:"reference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":          "pi_1",
			"reference":   req.Reference,
			"checkoutUrl": "https://pay.example/pi_1",
		})
	}))
	t.Cleanup(gwSrv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	gw := gateway.New(gateway.Config{BaseURL: gwSrv.URL, APIKey: "k", BreakerFailures: 100}, logger, m.Gateway)

	svcs := service.NewServices(service.Deps{
		Store:   memrepo.New(),
		Gateway: gw,
		Metrics: m,
		Logger:  logger,
	}, service.Config{
		Webhook: webhook.Config{Secret: testSecret},
	})

	env.router = NewRouter(svcs, Options{
		Metrics:  m.HTTP,
		Gatherer: reg,
		AdminKey: testAdminKey,
	}, logger)

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, stock int64) (eventID, ticketTypeID int64) {
	t.Helper()
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	w := e.do(t, http.MethodPost, "/admin/events", CreateEventRequest{
		Title:    "Opening night",
		Venue:    "Hall A",
		StartsAt: "2026-12-01T19:00:00Z",
		EndsAt:   "2026-12-01T22:00:00Z",
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var ev EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))

	w = e.do(t, http.MethodPost, "/admin/events/"+strconv.FormatInt(ev.ID, 10)+"/ticket-types", CreateTicketTypeRequest{
		Category:   "Standard",
		UnitPrice:  2500,
		TotalStock: stock,
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var tt TicketTypeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tt))

	return ev.ID, tt.ID
}

func signed(body []byte) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		"X-Timestamp": ts,
		"X-Signature": webhook.Sign(testSecret, body, ts),
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCheckoutThenWebhookConfirmsOrder(t *testing.T) {
	env := newTestEnv(t)
	_, ttID := env.seed(t, 10)
	buyer := map[string]string{"X-User-ID": "7"}

	w := env.do(t, http.MethodPost, "/payment", CreatePaymentRequest{TicketTypeID: ttID, Quantity: 2}, buyer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, int64(5000), created.Order.Total)
	assert.Equal(t, "pending", created.Order.Status)
	assert.Equal(t, "https://pay.example/pi_1", created.CheckoutURL)
	require.NotEmpty(t, created.Reference)

	w = env.do(t, http.MethodGet, "/ticket-types/"+strconv.FormatInt(ttID, 10)+"/availability", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var av TicketTypeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &av))
	require.NotNil(t, av.Available)
	assert.Equal(t, int64(8), *av.Available)

	body, err := json.Marshal(map[string]string{
		"reference":     created.Reference,
		"paymentStatus": "COMPLETED",
		"transId":       "tx-9",
	})
	require.NoError(t, err)

	w = env.do(t, http.MethodPost, "/payment/webhook", body, signed(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"applied"`)

	w = env.do(t, http.MethodPost, "/payment/webhook", body, signed(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"duplicate"`)

	w = env.do(t, http.MethodGet, "/orders/"+created.Order.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var order OrderWithPaymentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "confirmed", order.Status)
	require.Len(t, order.Payments, 1)
	require.NotNil(t, order.CurrentPayment)
	assert.Equal(t, "completed", order.CurrentPayment.Status)
	require.NotNil(t, order.CurrentPayment.ExternalTransactionID)
	assert.Equal(t, "tx-9", *order.CurrentPayment.ExternalTransactionID)
}

func TestCheckoutGatewayFailureReturns502WithOrder(t *testing.T) {
	env := newTestEnv(t)
	_, ttID := env.seed(t, 10)
	env.failing.Store(true)

	w := env.do(t, http.MethodPost, "/payment", CreatePaymentRequest{TicketTypeID: ttID, Quantity: 1},
		map[string]string{"X-User-ID": "7"})
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	var resp GatewayErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OrderID)

	w = env.do(t, http.MethodGet, "/payment/retry/stats", nil, map[string]string{"X-Admin-Key": testAdminKey})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":1`)

	w = env.do(t, http.MethodGet, "/orders/"+resp.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var order OrderWithPaymentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "pending", order.Status)
	require.Len(t, order.Payments, 1)
	assert.Equal(t, "failed", order.Payments[0].Status)
}

func TestCheckoutErrors(t *testing.T) {
	env := newTestEnv(t)
	_, ttID := env.seed(t, 1)
	total := int64(1)

	tests := []struct {
		name    string
		req     any
		headers map[string]string
		want    int
	}{
		{"no user", CreatePaymentRequest{TicketTypeID: ttID, Quantity: 1}, nil, http.StatusUnauthorized},
		{"bad body", []byte(`{`), map[string]string{"X-User-ID": "1"}, http.StatusBadRequest},
		{"too many", CreatePaymentRequest{TicketTypeID: ttID, Quantity: 11}, map[string]string{"X-User-ID": "1"}, http.StatusBadRequest},
		{"total mismatch", CreatePaymentRequest{TicketTypeID: ttID, Quantity: 1, Total: &total}, map[string]string{"X-User-ID": "1"}, http.StatusBadRequest},
		{"unknown ticket type", CreatePaymentRequest{TicketTypeID: 999, Quantity: 1}, map[string]string{"X-User-ID": "1"}, http.StatusNotFound},
		{"insufficient stock", CreatePaymentRequest{TicketTypeID: ttID, Quantity: 2}, map[string]string{"X-User-ID": "1"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/payment", tt.req, tt.headers)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestWebhookErrors(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"reference":"TIX-nope","paymentStatus":"DONE"}`)

	w := env.do(t, http.MethodPost, "/payment/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := signed(body)
	bad["X-Signature"] = webhook.Sign("other", body, bad["X-Timestamp"])
	w = env.do(t, http.MethodPost, "/payment/webhook", body, bad)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/payment/webhook", body, signed(body))
	assert.Equal(t, http.StatusNotFound, w.Code)

	garbage := []byte(`not json`)
	w = env.do(t, http.MethodPost, "/payment/webhook", garbage, signed(garbage))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/payment/retry/stats", "/payment/retry/exhausted"} {
		w := env.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := env.do(t, http.MethodPost, "/admin/events", CreateEventRequest{}, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/payment/retry/process", nil, map[string]string{"X-Admin-Key": testAdminKey})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"claimed":0`)
}

func TestAdminValidation(t *testing.T) {
	env := newTestEnv(t)
	evID, _ := env.seed(t, 5)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	w := env.do(t, http.MethodPost, "/admin/events", CreateEventRequest{
		Title:    "Backwards",
		StartsAt: "2026-12-01T22:00:00Z",
		EndsAt:   "2026-12-01T19:00:00Z",
	}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/admin/events", CreateEventRequest{
		Title:    "Opening night",
		StartsAt: "2026-12-01T19:00:00Z",
		EndsAt:   "2026-12-01T23:00:00Z",
	}, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/admin/events/"+strconv.FormatInt(evID, 10)+"/ticket-types",
		CreateTicketTypeRequest{Category: "Standard", UnitPrice: 100, TotalStock: 1}, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/admin/events/999/ticket-types",
		CreateTicketTypeRequest{Category: "VIP", UnitPrice: 100, TotalStock: 1}, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventETag(t *testing.T) {
	env := newTestEnv(t)
	evID, _ := env.seed(t, 5)
	path := "/events/" + strconv.FormatInt(evID, 10)

	w := env.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = env.do(t, http.MethodGet, path, nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = env.do(t, http.MethodGet, "/events/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/orders/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", nil, nil)

	w := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tixpay_http_requests_total")
}
