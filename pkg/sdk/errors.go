package paymesh

import "github.com/paymesh-io/paymesh/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrDailyLimitExceeded    = domain.ErrDailyLimitExceeded
	ErrMonthlyLimitExceeded  = domain.ErrMonthlyLimitExceeded
	ErrEmergencyThreshold    = domain.ErrEmergencyThreshold
	ErrBudgetInactive        = domain.ErrBudgetInactive
	ErrBudgetNotFound        = domain.ErrBudgetNotFound
	ErrInvalidLimits         = domain.ErrInvalidLimits
	ErrNoProvidersAvailable  = domain.ErrNoProvidersAvailable
	ErrNoSuitableProvider    = domain.ErrNoSuitableProvider
	ErrProviderExists        = domain.ErrProviderExists
	ErrProviderNotRegistered = domain.ErrProviderNotRegistered
	ErrPaymentExists         = domain.ErrPaymentExists
	ErrPaymentNotFound       = domain.ErrPaymentNotFound
	ErrPaymentNotCancellable = domain.ErrPaymentNotCancellable
	ErrPaymentRejected       = domain.ErrPaymentRejected
	ErrOracleUnavailable     = domain.ErrOracleUnavailable
)
