// Package gateway talks to the mobile-money payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Currency string
	// ExchangeRate converts one major unit of the store currency into the
	// settlement currency.
	ExchangeRate decimal.Decimal
	// MinAmount is the smallest settlement amount the provider accepts.
	MinAmount   decimal.Decimal
	CallbackURL string
	ReturnURL   string
	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Intent is a provider-side payment request the payer completes at
// CheckoutURL.
type Intent struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	CheckoutURL string          `json:"checkout_url"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.GatewayMetrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config, logger *slog.Logger, m *metrics.GatewayMetrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.ExchangeRate.IsZero() {
		cfg.ExchangeRate = decimal.NewFromInt(1)
	}

	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return c
}

// SettlementAmount converts an amount in store minor units into the
// provider's settlement currency, rounded to cents and floored at
// MinAmount.
func (c *Client) SettlementAmount(minor int64) decimal.Decimal {
	amount := decimal.New(minor, -2).Mul(c.cfg.ExchangeRate).Round(2)
	if amount.LessThan(c.cfg.MinAmount) {
		return c.cfg.MinAmount
	}
	return amount
}

// NewReference returns a reference unique per attempt: it embeds the order
// id, the wall clock in milliseconds and a random suffix.
func NewReference(orderID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("TIX-%s-%d-%s", orderID, at.UnixMilli(), uuid.NewString()[:8])
}

// FailedReference is the placeholder reference of a payment whose intent
// was never created.
func FailedReference(orderID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("FAILED-%s-%d", orderID, at.UnixMilli())
}

type intentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Reference   string          `json:"reference"`
	OrderID     string          `json:"orderId"`
	Description string          `json:"description"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
	ReturnURL   string          `json:"returnUrl,omitempty"`
}

type intentResponse struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkoutUrl"`
	RedirectURL string `json:"redirectUrl"`
}

// CreateIntent opens a payment intent for the order's total.
//
// Parameters:
//   - ctx: request-scoped context; the call is additionally bounded by the
//     configured timeout.
//   - o: the order to charge.
//
// Returns:
//   - *Intent: the validated intent.
//   - error: *gateway.Error for any failure, wrapping ErrInvalidResponse when
//     the body lacks an id, a reference or a checkout URL.
func (c *Client) CreateIntent(ctx context.Context, o *domain.Order) (*Intent, error) {
	start := c.now()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.createIntent(ctx, o, start)
	})

	c.metrics.Observe(resultLabel(err), time.Since(start))

	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, &Error{Err: err}
	}

	return res.(*Intent), nil
}

func (c *Client) createIntent(ctx context.Context, o *domain.Order, at time.Time) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(intentRequest{
		Amount:      c.SettlementAmount(o.Total),
		Currency:    c.cfg.Currency,
		Reference:   NewReference(o.ID, at),
		OrderID:     o.ID.String(),
		Description: fmt.Sprintf("%d ticket(s), order %s", o.Quantity, o.ID),
		CallbackURL: c.cfg.CallbackURL,
		ReturnURL:   c.cfg.ReturnURL,
	})
	if err != nil {
		return nil, &Error{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/payments/intents", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncate(raw, 256)),
		}
	}

	var ir intentResponse
	if err := json.Unmarshal(raw, &ir); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}

	checkout := ir.CheckoutURL
	if checkout == "" {
		checkout = ir.RedirectURL
	}

	switch {
	case ir.ID == "":
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: missing id", ErrInvalidResponse)}
	case ir.Reference == "":
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: missing reference", ErrInvalidResponse)}
	case checkout == "":
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: missing checkout url", ErrInvalidResponse)}
	}

	return &Intent{
		ID:          ir.ID,
		Reference:   ir.Reference,
		CheckoutURL: checkout,
		Raw:         json.RawMessage(raw),
	}, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	default:
		return "error"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
