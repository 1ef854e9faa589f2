package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder() *domain.Order {
	return &domain.Order{
		ID:       uuid.New(),
		UserID:   7,
		Quantity: 2,
		Total:    10000,
	}
}

func TestCreateIntentSuccess(t *testing.T) {
	o := testOrder()

	var got intentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/intents", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":          "pi_123",
			"reference":   got.Reference,
			"redirectUrl": "https://pay.example/checkout/pi_123",
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret-key", Currency: "USD"}, testLogger(), nil)

	intent, err := c.CreateIntent(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, got.Reference, intent.Reference)
	assert.Equal(t, "https://pay.example/checkout/pi_123", intent.CheckoutURL)
	assert.True(t, strings.HasPrefix(got.Reference, "TIX-"+o.ID.String()+"-"))
	assert.Equal(t, o.ID.String(), got.OrderID)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Amount))
	assert.Contains(t, string(intent.Raw), `"pi_123"`)
}

func TestCreateIntentRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_1","reference":"ref"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, testLogger(), nil)

	_, err := c.CreateIntent(context.Background(), testOrder())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusOK, gwErr.StatusCode)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestCreateIntentNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, testLogger(), nil)

	_, err := c.CreateIntent(context.Background(), testOrder())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestCreateIntentTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, testLogger(), nil)

	_, err := c.CreateIntent(context.Background(), testOrder())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Zero(t, gwErr.StatusCode)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Minute}, testLogger(), nil)

	for range 2 {
		_, err := c.CreateIntent(context.Background(), testOrder())
		require.Error(t, err)
	}

	_, err := c.CreateIntent(context.Background(), testOrder())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the gateway")
	assert.Equal(t, "breaker_open", resultLabel(errors.Unwrap(err)))
}

func TestSettlementAmount(t *testing.T) {
	c := New(Config{
		ExchangeRate: decimal.RequireFromString("0.5"),
		MinAmount:    decimal.RequireFromString("0.50"),
	}, testLogger(), nil)

	assert.Equal(t, "50", c.SettlementAmount(10000).String())
	assert.Equal(t, "0.62", c.SettlementAmount(123).String())
	assert.Equal(t, "0.5", c.SettlementAmount(80).String(), "floored at the minimum")
}

func TestReferences(t *testing.T) {
	id := uuid.New()
	at := time.UnixMilli(1700000000123)

	a := NewReference(id, at)
	b := NewReference(id, at)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "TIX-"+id.String()+"-1700000000123-"))
	assert.Equal(t, "FAILED-"+id.String()+"-1700000000123", FailedReference(id, at))
}
