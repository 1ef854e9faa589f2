package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyLifecycle(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpected()
	ctx := context.Background()

	s := NewIdempotencyStore(db, 2*time.Hour)
	key := KeyIdemPayment(7, "abc")
	assert.Equal(t, "tixpay:v1:idem:payment:7:abc", key)

	mock.ExpectSetNX(key, "LOCK", time.Minute).SetVal(true)
	mock.ExpectGet(key).SetVal("LOCK")
	mock.ExpectSet(key, `RES:201:{"id":"x"}`, 2*time.Hour).SetVal("OK")
	mock.ExpectGet(key).SetVal(`RES:201:{"id":"x"}`)
	mock.ExpectDel(key).SetVal(1)
	mock.ExpectGet(key).RedisNil()

	locked, err := s.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	_, _, ok, err := s.GetResult(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "a held lock is not a stored result")

	require.NoError(t, s.SaveResult(ctx, key, 201, `{"id":"x"}`))

	status, body, ok, err := s.GetResult(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 201, status)
	assert.Equal(t, `{"id":"x"}`, body)

	require.NoError(t, s.Release(ctx, key))

	_, _, ok, err = s.GetResult(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultKeepsColonsInBody(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpected()

	key := KeyIdemPayment(1, "k")
	mock.ExpectGet(key).SetVal(`RES:502:{"error":"a:b","order_id":"o"}`)

	status, body, ok, err := NewIdempotencyStore(db, time.Hour).GetResult(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 502, status)
	assert.Equal(t, `{"error":"a:b","order_id":"o"}`, body)
}
