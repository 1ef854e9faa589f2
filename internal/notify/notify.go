// Package notify triggers the downstream notification sender when an order
// reaches a final outcome.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
)

// Notifier is fire-and-forget from the caller's point of view: callers log
// the error and move on.
type Notifier interface {
	Notify(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) error
}

// Publisher is the transport PubSub hands outcomes to.
type Publisher interface {
	PublishOrderOutcome(ctx context.Context, orderID, outcome string) error
}

// PubSub publishes outcomes on a message channel the notification sender
// and ticket renderer subscribe to.
type PubSub struct {
	pub Publisher
}

func NewPubSub(pub Publisher) *PubSub {
	return &PubSub{pub: pub}
}

func (n *PubSub) Notify(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) error {
	return n.pub.PublishOrderOutcome(ctx, orderID.String(), string(outcome))
}

type Logging struct {
	logger *slog.Logger
}

func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger}
}

func (n *Logging) Notify(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) error {
	n.logger.InfoContext(ctx, "order outcome",
		"order_id", orderID.String(),
		"outcome", string(outcome),
	)
	return nil
}

// Multi calls every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, orderID, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
