// Package memrepo is an in-process implementation of the repository
// interfaces. Transactions are serialized behind one mutex and applied
// copy-on-write, so a failed unit of work leaves no trace.
package memrepo

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

var (
	_ repository.Repos = (*Store)(nil)
	_ repository.Txer  = (*Store)(nil)
)

type state struct {
	eventSeq      int64
	ticketTypeSeq int64
	events        map[int64]domain.Event
	ticketTypes   map[int64]domain.TicketType
	orders        map[uuid.UUID]domain.Order
	payments      map[uuid.UUID]domain.Payment
	references    map[string]uuid.UUID
	retries       map[uuid.UUID]domain.RetryTicket
}

func newState() *state {
	return &state{
		events:      map[int64]domain.Event{},
		ticketTypes: map[int64]domain.TicketType{},
		orders:      map[uuid.UUID]domain.Order{},
		payments:    map[uuid.UUID]domain.Payment{},
		references:  map[string]uuid.UUID{},
		retries:     map[uuid.UUID]domain.RetryTicket{},
	}
}

func (s *state) clone() *state {
	return &state{
		eventSeq:      s.eventSeq,
		ticketTypeSeq: s.ticketTypeSeq,
		events:        maps.Clone(s.events),
		ticketTypes:   maps.Clone(s.ticketTypes),
		orders:        maps.Clone(s.orders),
		payments:      maps.Clone(s.payments),
		references:    maps.Clone(s.references),
		retries:       maps.Clone(s.retries),
	}
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(ctx, txRepos{h: handle{st: work}}); err != nil {
		return err
	}

	s.st = work
	return nil
}

func (s *Store) Catalog() repository.CatalogRepository  { return catalogRepo{handle{store: s}} }
func (s *Store) Orders() repository.OrderRepository     { return orderRepo{handle{store: s}} }
func (s *Store) Payments() repository.PaymentRepository { return paymentRepo{handle{store: s}} }
func (s *Store) Retries() repository.RetryRepository    { return retryRepo{handle{store: s}} }

type txRepos struct {
	h handle
}

func (t txRepos) Catalog() repository.CatalogRepository  { return catalogRepo{t.h} }
func (t txRepos) Orders() repository.OrderRepository     { return orderRepo{t.h} }
func (t txRepos) Payments() repository.PaymentRepository { return paymentRepo{t.h} }
func (t txRepos) Retries() repository.RetryRepository    { return retryRepo{t.h} }

// handle points either at a transaction's private state or at the store,
// in which case every call locks the store for its own duration.
type handle struct {
	store *Store
	st    *state
}

func (h handle) run(fn func(st *state) error) error {
	if h.st != nil {
		return fn(h.st)
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	return fn(h.store.st)
}
