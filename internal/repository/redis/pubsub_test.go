package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubPublishes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpected()
	ctx := context.Background()

	p := NewPubSub(db)
	p.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	mock.ExpectPublish(ChannelOrderOutcomes(),
		[]byte(`{"type":"order_outcome","order_id":"o-1","outcome":"success","ts_unix":1700000000}`)).SetVal(1)
	mock.ExpectPublish(ChannelTicketTypesChanged(),
		[]byte(`{"type":"ticket_type_changed","event_id":3,"ticket_type_id":9,"ts_unix":1700000000}`)).SetVal(0)

	require.NoError(t, p.PublishOrderOutcome(ctx, "o-1", "success"))
	require.NoError(t, p.PublishTicketTypeChanged(ctx, 3, 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilPubSubIsNoop(t *testing.T) {
	var p *PubSub
	assert.NoError(t, p.PublishOrderOutcome(context.Background(), "o", "failed"))
	assert.NoError(t, p.PublishTicketTypeChanged(context.Background(), 1, 1))
}
