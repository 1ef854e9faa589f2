package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/uow"
)

type Service struct {
	uow    *uow.UoW
	cache  *redisrepo.Cache
	pubsub *redisrepo.PubSub
	logger *slog.Logger
}

func New(u *uow.UoW, cache *redisrepo.Cache, pubsub *redisrepo.PubSub, logger *slog.Logger) *Service {
	return &Service{
		uow:    u,
		cache:  cache,
		pubsub: pubsub,
		logger: logger,
	}
}

// CreateEvent creates an event record.
//
// Parameters:
//   - ctx: request-scoped context.
//   - title, venue: display data.
//   - starts, ends: the event's schedule.
//
// Returns:
//   - *domain.Event: the created event.
//   - error: admin.ErrInvalidSchedule or admin.ErrEventConflict if an event
//     with the same title already starts at the same time.
func (s *Service) CreateEvent(
	ctx context.Context,
	title, venue string,
	starts, ends time.Time,
) (*domain.Event, error) {
	const op = "service.admin.CreateEvent"

	if !ends.After(starts) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSchedule)
	}

	e := &domain.Event{
		Title:    strings.TrimSpace(title),
		Venue:    strings.TrimSpace(venue),
		StartsAt: starts.UTC(),
		EndsAt:   ends.UTC(),
	}

	err := s.uow.Do(ctx, func(ctx context.Context, repos repository.Repos, after func(uow.AfterCommit)) error {
		if err := repos.Catalog().CreateEvent(ctx, e); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrEventConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return e, nil
}

// CreateTicketType adds a priced category with a fixed stock to an event.
//
// Returns:
//   - *domain.TicketType: the created ticket type.
//   - error: admin.ErrInvalidTicketType, admin.ErrEventNotFound or
//     admin.ErrTicketTypeConflict.
func (s *Service) CreateTicketType(
	ctx context.Context,
	eventID int64,
	category string,
	unitPrice, totalStock int64,
) (*domain.TicketType, error) {
	const op = "service.admin.CreateTicketType"

	category = strings.TrimSpace(category)
	if category == "" || unitPrice <= 0 || totalStock < 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidTicketType)
	}

	tt := &domain.TicketType{
		EventID:    eventID,
		Category:   category,
		UnitPrice:  unitPrice,
		TotalStock: totalStock,
	}

	err := s.uow.Do(ctx, func(ctx context.Context, repos repository.Repos, after func(uow.AfterCommit)) error {
		if _, err := repos.Catalog().GetEvent(ctx, eventID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		if err := repos.Catalog().CreateTicketType(ctx, tt); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrTicketTypeConflict
			}
			return err
		}

		after(func(ctx context.Context) {
			if err := s.cache.InvalidateEvent(ctx, eventID); err != nil {
				s.logger.Warn("invalidate event cache", "error", err, "event_id", eventID)
			}
			if err := s.pubsub.PublishTicketTypeChanged(ctx, eventID, tt.ID); err != nil {
				s.logger.Warn("publish ticket type change", "error", err, "event_id", eventID)
			}
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tt, nil
}
