package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// PubSub publishes catalog changes and order outcomes to the channels
// downstream consumers (ticket renderer, notification sender, read caches)
// listen on.
type PubSub struct {
	rdb *redis.Client
	now func() time.Time
}

func NewPubSub(rdb *redis.Client) *PubSub {
	return &PubSub{rdb: rdb, now: time.Now}
}

type ticketTypeChangedMsg struct {
	Type         string `json:"type"`
	EventID      int64  `json:"event_id"`
	TicketTypeID int64  `json:"ticket_type_id"`
	TsUnix       int64  `json:"ts_unix"`
}

type orderOutcomeMsg struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *PubSub) PublishTicketTypeChanged(ctx context.Context, eventID, ticketTypeID int64) error {
	if p == nil {
		return nil
	}

	b, _ := json.Marshal(ticketTypeChangedMsg{
		Type:         "ticket_type_changed",
		EventID:      eventID,
		TicketTypeID: ticketTypeID,
		TsUnix:       p.now().Unix(),
	})

	return p.rdb.Publish(ctx, ChannelTicketTypesChanged(), b).Err()
}

func (p *PubSub) PublishOrderOutcome(ctx context.Context, orderID, outcome string) error {
	if p == nil {
		return nil
	}

	b, _ := json.Marshal(orderOutcomeMsg{
		Type:    "order_outcome",
		OrderID: orderID,
		Outcome: outcome,
		TsUnix:  p.now().Unix(),
	})

	return p.rdb.Publish(ctx, ChannelOrderOutcomes(), b).Err()
}
