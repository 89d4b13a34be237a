package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	return NewGuard(zap.NewNop()).WithClock(func() time.Time { return t0 })
}

func TestCheckAndReserve_UnknownPrincipal(t *testing.T) {
	g := newGuard(t)

	err := g.CheckAndReserve(context.Background(), "ghost", 0.01, false)
	if !errors.Is(err, domain.ErrBudgetNotFound) {
		t.Fatalf("expected ErrBudgetNotFound, got %v", err)
	}
}

func TestCheckAndReserve_EmergencyScenario(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	if err := g.Configure(ctx, "agent-1", 0.01, 0.1, 0.005); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if err := g.CheckAndReserve(ctx, "agent-1", 0.006, false); !errors.Is(err, domain.ErrEmergencyThreshold) {
		t.Fatalf("expected ErrEmergencyThreshold, got %v", err)
	}
	if err := g.CheckAndReserve(ctx, "agent-1", 0.004, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := g.Status("agent-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.DailySpent != 0.004 {
		t.Errorf("dailySpent = %v, want 0.004", st.DailySpent)
	}
}

func TestCheckAndReserve_NeverExceedsLimits(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	_ = g.Configure(ctx, "agent-1", 0.01, 0.1, 0)

	// Hammer the guard; only whole reservations may commit.
	for i := 0; i < 20; i++ {
		_ = g.CheckAndReserve(ctx, "agent-1", 0.003, false)
	}

	st, _ := g.Status("agent-1")
	if st.DailySpent > st.DailyLimit {
		t.Errorf("dailySpent %v exceeds limit %v", st.DailySpent, st.DailyLimit)
	}
	if st.MonthlySpent > st.MonthlyLimit {
		t.Errorf("monthlySpent %v exceeds limit %v", st.MonthlySpent, st.MonthlyLimit)
	}
}

func TestCheckAndReserve_ConcurrentPrincipalsIsolated(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	_ = g.Configure(ctx, "a", 1.0, 10.0, 0)
	_ = g.Configure(ctx, "b", 1.0, 10.0, 0)

	var wg sync.WaitGroup
	for _, principal := range []string{"a", "b"} {
		principal := principal
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = g.CheckAndReserve(ctx, principal, 0.01, false)
			}
		}()
	}
	wg.Wait()

	for _, principal := range []string{"a", "b"} {
		st, _ := g.Status(principal)
		if diff := st.DailySpent - 0.5; diff < -1e-9 || diff > 1e-9 {
			t.Errorf("principal %s dailySpent = %v, want 0.5", principal, st.DailySpent)
		}
	}
}

func TestConfigure_RejectsDailyAboveMonthly(t *testing.T) {
	g := newGuard(t)

	err := g.Configure(context.Background(), "agent-1", 2.0, 1.0, 0)
	if !errors.Is(err, domain.ErrInvalidLimits) {
		t.Fatalf("expected ErrInvalidLimits, got %v", err)
	}
}

func TestConfigure_PreservesSpentOnUpdate(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	_ = g.Configure(ctx, "agent-1", 1.0, 10.0, 0)
	_ = g.CheckAndReserve(ctx, "agent-1", 0.4, false)

	if err := g.Configure(ctx, "agent-1", 2.0, 20.0, 0); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	st, _ := g.Status("agent-1")
	if st.DailySpent != 0.4 {
		t.Errorf("dailySpent = %v, want 0.4 preserved", st.DailySpent)
	}
	if st.DailyLimit != 2.0 {
		t.Errorf("dailyLimit = %v, want 2.0", st.DailyLimit)
	}
}

func TestDeactivate_BlocksSpendButKeepsBudget(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	_ = g.Configure(ctx, "agent-1", 1.0, 10.0, 0)

	if err := g.Deactivate(ctx, "agent-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := g.CheckAndReserve(ctx, "agent-1", 0.1, false); !errors.Is(err, domain.ErrBudgetInactive) {
		t.Fatalf("expected ErrBudgetInactive, got %v", err)
	}
	if _, err := g.Status("agent-1"); err != nil {
		t.Fatalf("deactivated budget must remain readable: %v", err)
	}
}

func TestRelease_RestoresHeadroom(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	_ = g.Configure(ctx, "agent-1", 0.01, 0.1, 0)
	_ = g.CheckAndReserve(ctx, "agent-1", 0.01, false)

	if err := g.CheckAndReserve(ctx, "agent-1", 0.01, false); !errors.Is(err, domain.ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}

	g.Release(ctx, "agent-1", 0.01)
	if err := g.CheckAndReserve(ctx, "agent-1", 0.01, false); err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
}

// fakeStore records saves and seeds loads.
type fakeStore struct {
	mu     sync.Mutex
	saved  []dombudget.Budget
	seeded []dombudget.Budget
}

func (f *fakeStore) Save(_ context.Context, b dombudget.Budget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, b)
	return nil
}

func (f *fakeStore) LoadAll(_ context.Context) ([]dombudget.Budget, error) {
	return f.seeded, nil
}

func TestWithStore_LoadsAndPersists(t *testing.T) {
	seeded, _ := dombudget.New("agent-1", 1.0, 10.0, 0, t0)
	seeded.DailySpent = 0.3
	seeded.MonthlySpent = 0.3
	fs := &fakeStore{seeded: []dombudget.Budget{seeded}}

	g := newGuard(t).WithStore(context.Background(), fs)

	st, err := g.Status("agent-1")
	if err != nil {
		t.Fatalf("loaded budget missing: %v", err)
	}
	if st.DailySpent != 0.3 {
		t.Errorf("dailySpent = %v, want 0.3 from store", st.DailySpent)
	}

	_ = g.CheckAndReserve(context.Background(), "agent-1", 0.1, false)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.saved) == 0 {
		t.Error("expected write-behind save after reservation")
	}
}

func TestDailyUtilization(t *testing.T) {
	g := newGuard(t)
	ctx := context.Background()
	_ = g.Configure(ctx, "agent-1", 1.0, 10.0, 0)
	_ = g.CheckAndReserve(ctx, "agent-1", 0.85, false)

	if u := g.DailyUtilization("agent-1"); u < 0.8499 || u > 0.8501 {
		t.Errorf("utilization = %v, want 0.85", u)
	}
	if u := g.DailyUtilization("ghost"); u != 0 {
		t.Errorf("unknown principal utilization = %v, want 0", u)
	}
}
