package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDailyLimitExceeded signals a reservation that would break the daily cap.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
	// ErrMonthlyLimitExceeded signals a reservation that would break the monthly cap.
	ErrMonthlyLimitExceeded = errors.New("monthly limit exceeded")
	// ErrEmergencyThreshold signals an amount above the per-transaction emergency
	// threshold without elevated authorization.
	ErrEmergencyThreshold = errors.New("emergency threshold exceeded")
	// ErrBudgetInactive signals a spend attempt against a deactivated budget.
	ErrBudgetInactive = errors.New("budget inactive")
	// ErrBudgetNotFound signals a missing budget for a principal.
	ErrBudgetNotFound = errors.New("budget not found")
	// ErrInvalidLimits signals a budget configuration with daily > monthly.
	ErrInvalidLimits = errors.New("daily limit must not exceed monthly limit")

	// ErrNoProvidersAvailable signals an empty candidate set passed to the scorer.
	ErrNoProvidersAvailable = errors.New("no providers available")
	// ErrNoSuitableProvider signals that no local provider can serve a request.
	ErrNoSuitableProvider = errors.New("no suitable provider")
	// ErrProviderExists signals a duplicate provider registration.
	ErrProviderExists = errors.New("provider already registered")
	// ErrProviderNotRegistered signals a missing provider.
	ErrProviderNotRegistered = errors.New("provider not registered")

	// ErrPaymentExists signals a duplicate payment id.
	ErrPaymentExists = errors.New("payment id already exists")
	// ErrPaymentNotFound signals a missing payment.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentNotCancellable signals a cancel attempt on a processing payment.
	ErrPaymentNotCancellable = errors.New("payment already processing")
	// ErrPaymentRejected signals a ledger-side rejection of a payment.
	ErrPaymentRejected = errors.New("payment rejected by ledger")

	// ErrOracleUnavailable signals that the optimization oracle is unreachable
	// or in degraded mode.
	ErrOracleUnavailable = errors.New("optimization oracle unavailable")
)

// LimitError wraps a budget limit sentinel with the remaining headroom,
// so callers can report how much budget is left without a second lookup.
type LimitError struct {
	Limit     error
	Remaining float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %.6f remaining", e.Limit.Error(), e.Remaining)
}

func (e *LimitError) Unwrap() error { return e.Limit }

// NewLimitError creates a limit error carrying the remaining budget.
func NewLimitError(limit error, remaining float64) error {
	return &LimitError{Limit: limit, Remaining: remaining}
}
