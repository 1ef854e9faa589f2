package admin

import (
	"errors"
)

var (
	ErrEventConflict      = errors.New("event already exists")
	ErrEventNotFound      = errors.New("event not found")
	ErrInvalidSchedule    = errors.New("event must end after it starts")
	ErrTicketTypeConflict = errors.New("ticket type already exists for this event")
	ErrInvalidTicketType  = errors.New("ticket type needs a category, a positive price and non-negative stock")
)
