package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// HoldsInventory reports whether an order in this status counts against
// the available stock of its ticket type.
func (s OrderStatus) HoldsInventory() bool {
	return s == OrderPending || s == OrderConfirmed
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether no further webhook transition is accepted.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	default:
		return false
	}
}

type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryProcessing RetryStatus = "processing"
	RetrySuccess    RetryStatus = "success"
	RetryFailed     RetryStatus = "failed"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

const PaymentMethodMobileMoney = "mobile_money"

type Event struct {
	ID        int64
	Title     string
	Venue     string
	StartsAt  time.Time
	EndsAt    time.Time
	CreatedAt time.Time
}

type TicketType struct {
	ID         int64
	EventID    int64
	Category   string
	UnitPrice  int64
	TotalStock int64
	CreatedAt  time.Time
}

type TicketTypeAvailability struct {
	TicketType
	Available int64
}

type Order struct {
	ID           uuid.UUID
	UserID       int64
	TicketTypeID int64
	Quantity     int
	Total        int64
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Payment struct {
	ID                    uuid.UUID
	OrderID               uuid.UUID
	Amount                int64
	Method                string
	Status                PaymentStatus
	GatewayReference      string
	ExternalTransactionID *string
	GatewayPayload        json.RawMessage
	PaidAt                *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type OrderWithPayments struct {
	Order    Order
	Payments []Payment
}

// Current returns the most recent payment row, or nil when the order has
// never reached the gateway.
func (o OrderWithPayments) Current() *Payment {
	var cur *Payment
	for i := range o.Payments {
		if cur == nil || o.Payments[i].CreatedAt.After(cur.CreatedAt) {
			cur = &o.Payments[i]
		}
	}
	return cur
}

type RetryTicket struct {
	PaymentID     uuid.UUID
	AttemptCount  int
	MaxAttempts   int
	NextRetryAt   time.Time
	LastAttemptAt *time.Time
	CompletedAt   *time.Time
	Status        RetryStatus
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Exhausted reports whether the scheduler will never pick the ticket again.
func (t RetryTicket) Exhausted() bool {
	return t.Status == RetryFailed && t.AttemptCount >= t.MaxAttempts
}

type RetryStats struct {
	Pending         int64   `json:"pending"`
	Processing      int64   `json:"processing"`
	Success         int64   `json:"success"`
	Failed          int64   `json:"failed"`
	Exhausted       int64   `json:"exhausted"`
	Total           int64   `json:"total"`
	AverageAttempts float64 `json:"average_attempts"`
}
