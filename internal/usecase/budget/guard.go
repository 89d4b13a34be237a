package budget

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
	"github.com/paymesh-io/paymesh/internal/metrics"
)

// Guard enforces per-principal spend limits. In-memory state is
// authoritative; a persistence store may be attached for write-behind
// saves and warm starts.
//
// Callers needing the reserve-then-pay sequence to be atomic per principal
// (the execution gateway) serialize around the guard with their own
// per-principal locks; the guard's mutex only protects its map.
type Guard struct {
	mu      sync.Mutex
	budgets map[string]dombudget.Budget
	store   Store
	logger  *zap.Logger
	now     func() time.Time
}

// NewGuard creates an empty guard.
func NewGuard(logger *zap.Logger) *Guard {
	return &Guard{
		budgets: make(map[string]dombudget.Budget),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithStore attaches a persistence store and loads saved budgets.
func (g *Guard) WithStore(ctx context.Context, store Store) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.store = store
	saved, err := store.LoadAll(ctx)
	if err != nil {
		g.logger.Warn("Failed to load budgets from store", zap.Error(err))
		return g
	}
	for _, b := range saved {
		g.budgets[b.Principal] = b
	}
	g.logger.Info("Budgets loaded from store", zap.Int("count", len(saved)))
	return g
}

// WithClock overrides the time source. Test hook.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Configure creates or updates the limits for a principal.
// Reactivates a deactivated budget; spent counters are preserved.
func (g *Guard) Configure(ctx context.Context, principal string, daily, monthly, emergency float64) error {
	if daily > monthly {
		return domain.ErrInvalidLimits
	}

	g.mu.Lock()
	b, ok := g.budgets[principal]
	if !ok {
		created, err := dombudget.New(principal, daily, monthly, emergency, g.now())
		if err != nil {
			g.mu.Unlock()
			return err
		}
		b = created
	} else {
		b.DailyLimit = daily
		b.MonthlyLimit = monthly
		b.EmergencyThreshold = emergency
		b.Active = true
	}
	g.budgets[principal] = b
	g.mu.Unlock()

	g.persist(ctx, b)
	return nil
}

// CheckAndReserve applies lazy window resets, validates the amount against
// both limits and the emergency threshold, and commits the spend. The
// commit is atomic with respect to other reservations: the budget map is
// only updated when every check passed.
func (g *Guard) CheckAndReserve(ctx context.Context, principal string, amount float64, elevated bool) error {
	g.mu.Lock()
	b, ok := g.budgets[principal]
	if !ok {
		g.mu.Unlock()
		return domain.ErrBudgetNotFound
	}

	updated, err := b.Reserve(amount, elevated, g.now())
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.budgets[principal] = updated
	g.mu.Unlock()

	g.persist(ctx, updated)
	return nil
}

// Release undoes a committed reservation after a downstream failure.
func (g *Guard) Release(ctx context.Context, principal string, amount float64) {
	g.mu.Lock()
	b, ok := g.budgets[principal]
	if !ok {
		g.mu.Unlock()
		return
	}
	updated := b.Release(amount)
	g.budgets[principal] = updated
	g.mu.Unlock()

	g.persist(ctx, updated)
}

// Status returns a read-only projection with lazy resets applied.
// Never mutates stored state.
func (g *Guard) Status(principal string) (dombudget.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.budgets[principal]
	if !ok {
		return dombudget.Status{}, domain.ErrBudgetNotFound
	}
	return b.StatusAt(g.now()), nil
}

// DailyUtilization returns spent/limit for the principal's daily window.
// Unknown principals report 0.
func (g *Guard) DailyUtilization(principal string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.budgets[principal]
	if !ok {
		return 0
	}
	return b.DailyUtilization(g.now())
}

// Deactivate disables further spending. Budgets are never deleted.
func (g *Guard) Deactivate(ctx context.Context, principal string) error {
	g.mu.Lock()
	b, ok := g.budgets[principal]
	if !ok {
		g.mu.Unlock()
		return domain.ErrBudgetNotFound
	}
	b.Active = false
	g.budgets[principal] = b
	g.mu.Unlock()

	g.persist(ctx, b)
	return nil
}

// persist is the write-behind save. Failures are logged, never surfaced:
// the in-memory state already committed. Also refreshes the remaining-budget
// gauges, since every state change funnels through here.
func (g *Guard) persist(ctx context.Context, b dombudget.Budget) {
	st := b.StatusAt(g.now())
	metrics.BudgetRemaining.WithLabelValues(b.Principal, "daily").Set(st.DailyRemaining)
	metrics.BudgetRemaining.WithLabelValues(b.Principal, "monthly").Set(st.MonthlyRemaining)

	if g.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(withoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := g.store.Save(saveCtx, b); err != nil {
		g.logger.Warn("Failed to persist budget",
			zap.String("principal", b.Principal),
			zap.Error(err),
		)
	}
}

func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
