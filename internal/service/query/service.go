package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/service/stock"
)

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
}

type Service struct {
	repos repository.Repos
	cache *redisrepo.Cache
	cfg   Config
}

func New(repos repository.Repos, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Service{
		repos: repos,
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID, utilizing a caching layer to improve performance.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the event to retrieve.
//
// Returns:
//   - *domain.Event: the retrieved event, or nil if not found.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	event, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventSummary(id),
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.Event, error) {
			e, err := s.repos.Catalog().GetEvent(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.Event{}, ErrEventNotFound
				}

				return domain.Event{}, err
			}

			return *e, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &event, nil
}

// ListTicketTypes returns the event's ticket types with their current
// availability. The list shares the availability TTL since it embeds it.
//
// Returns:
//   - []domain.TicketTypeAvailability: ticket types ordered by price.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketTypeAvailability, error) {
	const op = "service.query.ListTicketTypes"

	list, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventTicketTypes(eventID),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) ([]domain.TicketTypeAvailability, error) {
			if _, err := s.repos.Catalog().GetEvent(ctx, eventID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, ErrEventNotFound
				}
				return nil, err
			}

			tts, err := s.repos.Catalog().ListTicketTypes(ctx, eventID)
			if err != nil {
				return nil, err
			}

			ledger := stock.NewLedger(s.repos)
			out := make([]domain.TicketTypeAvailability, 0, len(tts))
			for _, tt := range tts {
				available, err := ledger.AvailableStock(ctx, tt.ID)
				if err != nil {
					return nil, err
				}
				out = append(out, domain.TicketTypeAvailability{TicketType: tt, Available: available})
			}

			return out, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

// Availability returns a ticket type with its derived available stock.
// The cached value is a display hint; checkout always re-checks under a
// row lock.
//
// Returns:
//   - *domain.TicketTypeAvailability: the ticket type and its availability.
//   - error: query.ErrTicketTypeNotFound if the ticket type is not found.
func (s *Service) Availability(ctx context.Context, ticketTypeID int64) (*domain.TicketTypeAvailability, error) {
	const op = "service.query.Availability"

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyAvailability(ticketTypeID),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.TicketTypeAvailability, error) {
			tt, err := s.repos.Catalog().GetTicketType(ctx, ticketTypeID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.TicketTypeAvailability{}, ErrTicketTypeNotFound
				}
				return domain.TicketTypeAvailability{}, err
			}

			available, err := stock.NewLedger(s.repos).AvailableStock(ctx, tt.ID)
			if err != nil {
				return domain.TicketTypeAvailability{}, err
			}

			return domain.TicketTypeAvailability{TicketType: *tt, Available: available}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &av, nil
}

// GetOrder retrieves an order with every payment attempt made for it.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order to retrieve.
//
// Returns:
//   - *domain.OrderWithPayments: the order and its payments, oldest first.
//   - error: query.ErrOrderNotFound if the order is not found.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.OrderWithPayments, error) {
	const op = "service.query.GetOrder"

	o, err := s.repos.Orders().Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payments, err := s.repos.Payments().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &domain.OrderWithPayments{Order: *o, Payments: payments}, nil
}
