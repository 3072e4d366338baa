// Package core defines the sentinel error values shared across the engine's
// subsystems, so callers recover the error taxonomy via errors.Is/errors.As
// instead of matching on message strings.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate marks an idempotent replay of an already-stored event or
	// command. Callers treat this as success, not failure.
	ErrDuplicate = errors.New("core: duplicate")

	// ErrRateLimited marks an exchange response reporting weight exceeded.
	// The caller should back off and retry on the next cycle.
	ErrRateLimited = errors.New("core: rate limited")

	// ErrRiskGuardRejection marks a risk rule failure. The originating
	// command transitions to FAILED and a RiskGuardRejected event is
	// recorded.
	ErrRiskGuardRejection = errors.New("core: risk guard rejected")

	// ErrIntegrityViolation marks a unique-constraint breach in the store
	// outside of a recognized dedup path. This should never occur; treat
	// it as a bug in the caller, not a recoverable condition.
	ErrIntegrityViolation = errors.New("core: integrity violation")

	// ErrTransientIO marks a network or database timeout. Recoverable on
	// the next cycle.
	ErrTransientIO = errors.New("core: transient io")
)

// ExchangeAPIError is a typed error carrying the exchange's own error code
// and message (e.g. invalid symbol, insufficient balance), so callers can
// branch on Code without parsing the message text.
type ExchangeAPIError struct {
	Code    int
	Message string
}

func (e *ExchangeAPIError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.Code, e.Message)
}

// NewExchangeAPIError wraps an exchange error code/message pair.
func NewExchangeAPIError(code int, message string) *ExchangeAPIError {
	return &ExchangeAPIError{Code: code, Message: message}
}

// IsExchangeAPIError reports whether err wraps an ExchangeAPIError and, if
// so, returns it.
func IsExchangeAPIError(err error) (*ExchangeAPIError, bool) {
	var apiErr *ExchangeAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
