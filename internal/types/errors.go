package types

import (
	"errors"
	"fmt"
)

var (
	ErrCreditLimit     = errors.New("credit limit exceeded")
	ErrAuthExpired     = errors.New("access token expired")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotFound        = errors.New("not found")
	ErrOrderRejected   = errors.New("order rejected")
	ErrLeverageBlocked = errors.New("leverage ceiling")
)

// BrokerError is a business-level failure reported by the broker. Kind is
// one of the sentinels above and is what errors.Is matches against.
type BrokerError struct {
	Code    int
	Message string
	Kind    error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Kind
}
