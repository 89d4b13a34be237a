package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/paymesh-io/paymesh/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, daily, monthly, emergency float64) Budget {
	t.Helper()
	b, err := New("agent-1", daily, monthly, emergency, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b
}

func TestNew_DailyAboveMonthlyRejected(t *testing.T) {
	if _, err := New("agent-1", 2.0, 1.0, 0, t0); !errors.Is(err, domain.ErrInvalidLimits) {
		t.Fatalf("expected ErrInvalidLimits, got %v", err)
	}
}

func TestReserve_CommitsBothWindows(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)

	b, err := b.Reserve(0.25, false, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.DailySpent != 0.25 || b.MonthlySpent != 0.25 {
		t.Errorf("spent = %v/%v, want 0.25/0.25", b.DailySpent, b.MonthlySpent)
	}
}

func TestReserve_DailyLimit(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b, _ = b.Reserve(0.9, false, t0)

	_, err := b.Reserve(0.2, false, t0)
	if !errors.Is(err, domain.ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}

	var le *domain.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %T", err)
	}
	if diff := le.Remaining - 0.1; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("remaining = %v, want 0.1", le.Remaining)
	}
}

func TestReserve_MonthlyLimit(t *testing.T) {
	b := mustNew(t, 5.0, 5.0, 0)
	b, _ = b.Reserve(4.0, false, t0)
	// Roll the day so the daily window alone would allow it.
	later := t0.Add(25 * time.Hour)

	_, err := b.Reserve(1.5, false, later)
	if !errors.Is(err, domain.ErrMonthlyLimitExceeded) {
		t.Fatalf("expected ErrMonthlyLimitExceeded, got %v", err)
	}
}

func TestReserve_Inactive(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b.Active = false

	if _, err := b.Reserve(0.1, false, t0); !errors.Is(err, domain.ErrBudgetInactive) {
		t.Fatalf("expected ErrBudgetInactive, got %v", err)
	}
}

func TestReserve_EmergencyThreshold(t *testing.T) {
	b := mustNew(t, 0.01, 0.1, 0.005)

	if _, err := b.Reserve(0.006, false, t0); !errors.Is(err, domain.ErrEmergencyThreshold) {
		t.Fatalf("expected ErrEmergencyThreshold, got %v", err)
	}

	b, err := b.Reserve(0.004, false, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.DailySpent != 0.004 {
		t.Errorf("dailySpent = %v, want 0.004", b.DailySpent)
	}
}

func TestReserve_ElevatedBypassesEmergencyThreshold(t *testing.T) {
	b := mustNew(t, 0.01, 0.1, 0.005)

	b, err := b.Reserve(0.006, true, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.DailySpent != 0.006 {
		t.Errorf("dailySpent = %v, want 0.006", b.DailySpent)
	}
}

func TestRolled_AdvancesExactlyOneWindow(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b, _ = b.Reserve(0.8, false, t0)

	rolled := b.Rolled(t0.Add(25 * time.Hour))
	if rolled.DailySpent != 0 {
		t.Errorf("dailySpent = %v, want 0 after reset", rolled.DailySpent)
	}
	if want := t0.Add(24 * time.Hour); !rolled.LastDayReset.Equal(want) {
		t.Errorf("lastDayReset = %v, want %v", rolled.LastDayReset, want)
	}
	// Monthly window untouched.
	if rolled.MonthlySpent != 0.8 {
		t.Errorf("monthlySpent = %v, want 0.8", rolled.MonthlySpent)
	}
}

func TestRolled_MultipleElapsedWindows(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)

	rolled := b.Rolled(t0.Add(3*24*time.Hour + 7*time.Hour))
	if want := t0.Add(3 * 24 * time.Hour); !rolled.LastDayReset.Equal(want) {
		t.Errorf("lastDayReset = %v, want %v", rolled.LastDayReset, want)
	}
}

func TestRolled_Idempotent(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	now := t0.Add(25 * time.Hour)

	once := b.Rolled(now)
	twice := once.Rolled(now)
	if !twice.LastDayReset.Equal(once.LastDayReset) || twice.DailySpent != once.DailySpent {
		t.Errorf("second roll changed state: %+v vs %+v", twice, once)
	}
}

func TestRolled_MonthlyWindow(t *testing.T) {
	b := mustNew(t, 10.0, 10.0, 0)
	b, _ = b.Reserve(5.0, false, t0)

	rolled := b.Rolled(t0.Add(31 * 24 * time.Hour))
	if rolled.MonthlySpent != 0 {
		t.Errorf("monthlySpent = %v, want 0", rolled.MonthlySpent)
	}
	if want := t0.Add(30 * 24 * time.Hour); !rolled.LastMonthReset.Equal(want) {
		t.Errorf("lastMonthReset = %v, want %v", rolled.LastMonthReset, want)
	}
}

func TestReserve_ResetAppliedBeforeNewAmount(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b, _ = b.Reserve(0.95, false, t0)

	// Would exceed the daily limit without the reset.
	b, err := b.Reserve(0.5, false, t0.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.DailySpent != 0.5 {
		t.Errorf("dailySpent = %v, want 0.5", b.DailySpent)
	}
}

func TestRelease_NeverNegative(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b, _ = b.Reserve(0.2, false, t0)

	b = b.Release(0.5)
	if b.DailySpent != 0 || b.MonthlySpent != 0 {
		t.Errorf("spent = %v/%v, want 0/0", b.DailySpent, b.MonthlySpent)
	}
}

func TestStatusAt_DoesNotMutate(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b, _ = b.Reserve(0.8, false, t0)

	st := b.StatusAt(t0.Add(25 * time.Hour))
	if st.DailySpent != 0 {
		t.Errorf("projected dailySpent = %v, want 0", st.DailySpent)
	}
	// The underlying budget keeps the stale counter until a write applies the roll.
	if b.DailySpent != 0.8 {
		t.Errorf("budget mutated by StatusAt: dailySpent = %v", b.DailySpent)
	}
}

func TestDailyUtilization(t *testing.T) {
	b := mustNew(t, 1.0, 10.0, 0)
	b, _ = b.Reserve(0.85, false, t0)

	if u := b.DailyUtilization(t0); u < 0.8499 || u > 0.8501 {
		t.Errorf("utilization = %v, want 0.85", u)
	}
}
