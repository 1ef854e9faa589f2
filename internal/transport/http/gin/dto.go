package httpgin

import (
	"encoding/json"
	"time"

	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/service/checkout"
)

type CreatePaymentRequest struct {
	TicketTypeID int64 `json:"ticket_type_id" binding:"required,gt=0"`
	Quantity     int   `json:"quantity" binding:"required"`
	// Total is the amount the client displayed; a mismatch is rejected.
	Total *int64 `json:"total"`
}

type CreateEventRequest struct {
	Title    string `json:"title" binding:"required"`
	Venue    string `json:"venue"`
	StartsAt string `json:"starts_at" binding:"required"`
	EndsAt   string `json:"ends_at" binding:"required"`
}

type CreateTicketTypeRequest struct {
	Category   string `json:"category" binding:"required"`
	UnitPrice  int64  `json:"unit_price" binding:"required,gt=0"`
	TotalStock int64  `json:"total_stock" binding:"gte=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type GatewayErrorResponse struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id"`
}

type CreatePaymentResponse struct {
	Order       OrderResponse `json:"order"`
	PaymentID   string        `json:"payment_id"`
	Reference   string        `json:"reference"`
	CheckoutURL string        `json:"checkout_url"`
}

type EventResponse struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type TicketTypeResponse struct {
	ID         int64  `json:"id"`
	EventID    int64  `json:"event_id"`
	Category   string `json:"category"`
	UnitPrice  int64  `json:"unit_price"`
	TotalStock int64  `json:"total_stock"`
	Available  *int64 `json:"available,omitempty"`
}

type OrderResponse struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	TicketTypeID int64     `json:"ticket_type_id"`
	Quantity     int       `json:"quantity"`
	Total        int64     `json:"total"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PaymentResponse struct {
	ID                    string          `json:"id"`
	Amount                int64           `json:"amount"`
	Method                string          `json:"method"`
	Status                string          `json:"status"`
	GatewayReference      string          `json:"gateway_reference"`
	ExternalTransactionID *string         `json:"external_transaction_id,omitempty"`
	GatewayPayload        json.RawMessage `json:"gateway_payload,omitempty" swaggertype:"object"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

type OrderWithPaymentsResponse struct {
	OrderResponse
	Payments []PaymentResponse `json:"payments"`
	// CurrentPayment is the most recent attempt.
	CurrentPayment *PaymentResponse `json:"current_payment,omitempty"`
}

type RetryTicketResponse struct {
	PaymentID     string     `json:"payment_id"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   time.Time  `json:"next_retry_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

func toEventResponse(e *domain.Event) EventResponse {
	return EventResponse{
		ID:       e.ID,
		Title:    e.Title,
		Venue:    e.Venue,
		StartsAt: e.StartsAt,
		EndsAt:   e.EndsAt,
	}
}

func toTicketTypeResponse(tt domain.TicketType) TicketTypeResponse {
	return TicketTypeResponse{
		ID:         tt.ID,
		EventID:    tt.EventID,
		Category:   tt.Category,
		UnitPrice:  tt.UnitPrice,
		TotalStock: tt.TotalStock,
	}
}

func toAvailabilityResponse(av domain.TicketTypeAvailability) TicketTypeResponse {
	resp := toTicketTypeResponse(av.TicketType)
	available := av.Available
	resp.Available = &available
	return resp
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:           o.ID.String(),
		UserID:       o.UserID,
		TicketTypeID: o.TicketTypeID,
		Quantity:     o.Quantity,
		Total:        o.Total,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func toPaymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                    p.ID.String(),
		Amount:                p.Amount,
		Method:                p.Method,
		Status:                string(p.Status),
		GatewayReference:      p.GatewayReference,
		ExternalTransactionID: p.ExternalTransactionID,
		GatewayPayload:        p.GatewayPayload,
		PaidAt:                p.PaidAt,
		CreatedAt:             p.CreatedAt,
	}
}

func toOrderWithPaymentsResponse(owp *domain.OrderWithPayments) OrderWithPaymentsResponse {
	resp := OrderWithPaymentsResponse{
		OrderResponse: toOrderResponse(&owp.Order),
		Payments:      make([]PaymentResponse, 0, len(owp.Payments)),
	}

	for _, p := range owp.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}

	if cur := owp.Current(); cur != nil {
		c := toPaymentResponse(*cur)
		resp.CurrentPayment = &c
	}

	return resp
}

func toCreatePaymentResponse(res *checkout.Result) CreatePaymentResponse {
	return CreatePaymentResponse{
		Order:       toOrderResponse(res.Order),
		PaymentID:   res.PaymentID.String(),
		Reference:   res.Reference,
		CheckoutURL: res.CheckoutURL,
	}
}

func toRetryTicketResponse(t domain.RetryTicket) RetryTicketResponse {
	return RetryTicketResponse{
		PaymentID:     t.PaymentID.String(),
		AttemptCount:  t.AttemptCount,
		MaxAttempts:   t.MaxAttempts,
		NextRetryAt:   t.NextRetryAt,
		LastAttemptAt: t.LastAttemptAt,
		Status:        string(t.Status),
		Reason:        t.Reason,
		UpdatedAt:     t.UpdatedAt,
	}
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
