package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a single-owner lease backed by SET NX with a TTL. Release only
// deletes the key while this Lock still owns it.
type Lock struct {
	rdb      *redis.Client
	key      string
	ttl      time.Duration
	owner    string
	newOwner func() string
}

func NewLock(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl, newOwner: uuid.NewString}
}

func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	const op = "redisrepo.Lock.Acquire"

	owner := l.newOwner()

	ok, err := l.rdb.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	if ok {
		l.owner = owner
	}

	return ok, nil
}

func (l *Lock) Release(ctx context.Context) error {
	const op = "redisrepo.Lock.Release"

	if l.owner == "" {
		return nil
	}

	v, err := l.rdb.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		l.owner = ""
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if v != l.owner {
		l.owner = ""
		return nil
	}

	if err := l.rdb.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	l.owner = ""
	return nil
}

// Marker reads and stamps a timestamp kept under key. It lets periodic
// chores run at most once per period across instances.
type Marker struct {
	rdb *redis.Client
	key string
}

func NewMarker(rdb *redis.Client, key string) *Marker {
	return &Marker{rdb: rdb, key: key}
}

func (m *Marker) Last(ctx context.Context) (time.Time, error) {
	v, err := m.rdb.Get(ctx, m.key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

func (m *Marker) Stamp(ctx context.Context, at time.Time) error {
	return m.rdb.Set(ctx, m.key, at.Unix(), 0).Err()
}
