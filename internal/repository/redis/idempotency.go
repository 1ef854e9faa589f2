package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemNS = ns + ":idem"

const (
	lockValue    = "LOCK"
	resultPrefix = "RES:"
)

// KeyIdemPayment scopes an Idempotency-Key to the user that sent it.
func KeyIdemPayment(userID int64, idemKey string) string {
	return fmt.Sprintf("%s:payment:%d:%s", idemNS, userID, idemKey)
}

// IdempotencyStore keeps one slot per key: "LOCK" while the first request
// is in flight, then the stored response.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockValue, lockTTL).Result()
}

// SaveResult stores the status code with the body so replays answer exactly
// like the original request.
func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, status int, jsonPayload string) error {
	val := fmt.Sprintf("%s%d:%s", resultPrefix, status, jsonPayload)
	return s.rdb.Set(ctx, key, val, s.ttl).Err()
}

func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (int, string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}

	rest, ok := strings.CutPrefix(v, resultPrefix)
	if !ok {
		return 0, "", false, nil
	}

	code, body, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false, nil
	}

	var status int
	if _, err := fmt.Sscan(code, &status); err != nil {
		return 0, "", false, nil
	}

	return status, body, true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
