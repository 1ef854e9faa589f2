package gateway

import (
	"errors"
	"fmt"
)

var ErrInvalidResponse = errors.New("invalid gateway response")

// Error is returned for every failed intent call: transport failures,
// timeouts, non-2xx answers, malformed bodies and an open breaker.
type Error struct {
	// StatusCode is the HTTP status the gateway answered with, 0 when no
	// response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
