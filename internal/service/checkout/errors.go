package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tixpay/internal/service/stock"
)

var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrTicketTypeNotFound = stock.ErrTicketTypeNotFound
	ErrInsufficientStock  = stock.ErrInsufficientStock
	ErrTotalMismatch      = errors.New("total does not match server price")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
