package budget

import (
	"time"

	"github.com/paymesh-io/paymesh/internal/domain"
)

// Window lengths for the two rolling accounting periods.
const (
	DayWindow   = 24 * time.Hour
	MonthWindow = 30 * 24 * time.Hour
)

// Budget tracks spend for one principal against daily and monthly limits.
// Amounts are USD. A zero EmergencyThreshold disables the elevated-auth check.
//
// Budget is a value type: mutating operations return the updated value, so
// a failed reservation never leaves partial state behind.
type Budget struct {
	Principal          string
	DailyLimit         float64
	MonthlyLimit       float64
	EmergencyThreshold float64
	DailySpent         float64
	MonthlySpent       float64
	LastDayReset       time.Time
	LastMonthReset     time.Time
	Active             bool
}

// New creates an active budget for a principal.
// Fails with domain.ErrInvalidLimits when daily > monthly.
func New(principal string, daily, monthly, emergency float64, now time.Time) (Budget, error) {
	if daily > monthly {
		return Budget{}, domain.ErrInvalidLimits
	}
	return Budget{
		Principal:          principal,
		DailyLimit:         daily,
		MonthlyLimit:       monthly,
		EmergencyThreshold: emergency,
		LastDayReset:       now,
		LastMonthReset:     now,
		Active:             true,
	}, nil
}

// Rolled applies lazy window resets as of now. When one or more whole
// windows have elapsed, the spent counter zeroes and the reset marker
// advances by exactly that many windows — never partially, so applying
// the same instant twice is a no-op.
func (b Budget) Rolled(now time.Time) Budget {
	if elapsed := now.Sub(b.LastDayReset); elapsed >= DayWindow {
		b.DailySpent = 0
		b.LastDayReset = b.LastDayReset.Add(elapsed.Truncate(DayWindow))
	}
	if elapsed := now.Sub(b.LastMonthReset); elapsed >= MonthWindow {
		b.MonthlySpent = 0
		b.LastMonthReset = b.LastMonthReset.Add(elapsed.Truncate(MonthWindow))
	}
	return b
}

// Reserve commits amount against both windows after applying lazy resets.
// elevated callers may exceed the emergency threshold; nobody may exceed
// the window limits. Returns the updated budget, or the original one with
// the violation error.
func (b Budget) Reserve(amount float64, elevated bool, now time.Time) (Budget, error) {
	if !b.Active {
		return b, domain.ErrBudgetInactive
	}
	if b.EmergencyThreshold > 0 && amount > b.EmergencyThreshold && !elevated {
		return b, domain.ErrEmergencyThreshold
	}

	rolled := b.Rolled(now)
	if rolled.DailySpent+amount > rolled.DailyLimit {
		return b, domain.NewLimitError(domain.ErrDailyLimitExceeded, rolled.DailyLimit-rolled.DailySpent)
	}
	if rolled.MonthlySpent+amount > rolled.MonthlyLimit {
		return b, domain.NewLimitError(domain.ErrMonthlyLimitExceeded, rolled.MonthlyLimit-rolled.MonthlySpent)
	}

	rolled.DailySpent += amount
	rolled.MonthlySpent += amount
	return rolled, nil
}

// Release undoes a committed reservation after a downstream failure.
// Counters never go below zero (the window may have rolled in between).
func (b Budget) Release(amount float64) Budget {
	b.DailySpent = max(0, b.DailySpent-amount)
	b.MonthlySpent = max(0, b.MonthlySpent-amount)
	return b
}

// Status is a read-only projection of a budget at a point in time.
type Status struct {
	Principal        string
	DailyLimit       float64
	MonthlyLimit     float64
	DailySpent       float64
	MonthlySpent     float64
	DailyRemaining   float64
	MonthlyRemaining float64
	Active           bool
}

// StatusAt projects the budget with lazy resets applied, without mutating it.
func (b Budget) StatusAt(now time.Time) Status {
	rolled := b.Rolled(now)
	return Status{
		Principal:        rolled.Principal,
		DailyLimit:       rolled.DailyLimit,
		MonthlyLimit:     rolled.MonthlyLimit,
		DailySpent:       rolled.DailySpent,
		MonthlySpent:     rolled.MonthlySpent,
		DailyRemaining:   max(0, rolled.DailyLimit-rolled.DailySpent),
		MonthlyRemaining: max(0, rolled.MonthlyLimit-rolled.MonthlySpent),
		Active:           rolled.Active,
	}
}

// DailyUtilization returns spent/limit for the daily window in [0, 1].
func (b Budget) DailyUtilization(now time.Time) float64 {
	rolled := b.Rolled(now)
	if rolled.DailyLimit <= 0 {
		return 0
	}
	return rolled.DailySpent / rolled.DailyLimit
}
