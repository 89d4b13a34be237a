package paymesh

import (
	"context"
	"fmt"
	"time"
)

// BudgetStatus is a principal's spending position.
type BudgetStatus struct {
	Principal        string
	DailyLimit       float64
	MonthlyLimit     float64
	DailySpent       float64
	MonthlySpent     float64
	DailyRemaining   float64
	MonthlyRemaining float64
	Active           bool
}

// BudgetService manages spending budgets per principal.
type BudgetService struct {
	svc budgetUseCase
	obs *observer
}

// Configure creates or replaces a principal's budget. Emergency is the
// per-transaction threshold; 0 disables it.
func (s *BudgetService) Configure(ctx context.Context, principal string, daily, monthly, emergency float64) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("budget.configure", start, err) }()

	if err = s.svc.Configure(ctx, principal, daily, monthly, emergency); err != nil {
		return fmt.Errorf("configure budget: %w", err)
	}
	return nil
}

// Status returns the principal's current spending position with lazy
// day and month rollovers applied.
func (s *BudgetService) Status(ctx context.Context, principal string) (_ BudgetStatus, err error) {
	start := time.Now()
	defer func() { s.obs.observe("budget.status", start, err) }()

	st, err := s.svc.Status(principal)
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("budget status: %w", err)
	}
	return BudgetStatus{
		Principal:        st.Principal,
		DailyLimit:       st.DailyLimit,
		MonthlyLimit:     st.MonthlyLimit,
		DailySpent:       st.DailySpent,
		MonthlySpent:     st.MonthlySpent,
		DailyRemaining:   st.DailyRemaining,
		MonthlyRemaining: st.MonthlyRemaining,
		Active:           st.Active,
	}, nil
}

// Deactivate blocks further spending for the principal without
// discarding its counters.
func (s *BudgetService) Deactivate(ctx context.Context, principal string) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("budget.deactivate", start, err) }()

	if err = s.svc.Deactivate(ctx, principal); err != nil {
		return fmt.Errorf("deactivate budget: %w", err)
	}
	return nil
}
