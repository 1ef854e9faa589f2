package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache is a read-through JSON cache for the read side of the catalog.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func New(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

// raw returns the stored bytes, or ok=false on a miss.
func (c *Cache) raw(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}

	return b, true, nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}

	return c.rdb.Del(ctx, keys...).Err()
}

// GetOrSetJSON returns the cached value under key, or runs loader once per
// key across concurrent callers and stores its result for ttl. Store errors
// are dropped: the loaded value is still returned.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	const op = "redis.GetOrSetJSON"

	var out T
	if c == nil {
		return loader(ctx)
	}

	b, ok, err := c.raw(ctx, key)
	if err != nil {
		return out, fmt.Errorf("%s:%w", op, err)
	}

	if !ok {
		v, err, _ := c.sf.Do(key, func() (any, error) {
			if b, ok, err := c.raw(ctx, key); err != nil || ok {
				return b, err
			}

			loaded, err := loader(ctx)
			if err != nil {
				return nil, err
			}

			enc, err := json.Marshal(loaded)
			if err != nil {
				return nil, err
			}

			_ = c.rdb.Set(ctx, key, string(enc), ttl).Err()
			return enc, nil
		})
		if err != nil {
			return out, err
		}
		b = v.([]byte)
	}

	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (c *Cache) InvalidateEvent(ctx context.Context, eventID int64) error {
	return c.Del(
		ctx,
		KeyEventSummary(eventID),
		KeyEventTicketTypes(eventID),
	)
}

// InvalidateTicketType drops every cached view that embeds the ticket
// type's availability.
func (c *Cache) InvalidateTicketType(ctx context.Context, eventID, ticketTypeID int64) error {
	return c.Del(
		ctx,
		KeyAvailability(ticketTypeID),
		KeyEventTicketTypes(eventID),
	)
}
