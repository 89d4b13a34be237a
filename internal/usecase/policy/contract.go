package policy

import (
	"context"
	"time"

	"github.com/paymesh-io/paymesh/internal/domain/decision"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
	"github.com/paymesh-io/paymesh/internal/domain/routing"
	"github.com/paymesh-io/paymesh/internal/domain/usage"
)

// MetricsSource provides the aggregated usage the rule table evaluates.
type MetricsSource interface {
	Usage(window time.Duration) usage.Metrics
	RebalanceSuggestions(preferred []string, reliabilityThreshold float64) []routing.Rebalance
}

// Registry is the provider pool the engine inspects and corrects.
type Registry interface {
	Get(id string) (provider.Provider, error)
	List() []provider.Provider
	Candidates(chain string, minReliability, maxCost float64) []provider.Provider
	ActiveCount() int
	Register(ctx context.Context, p provider.Provider) error
	Deactivate(ctx context.Context, id string) error
}

// Selector ranks routing candidates.
type Selector interface {
	SelectOptimal(candidates []provider.Provider, req routing.Request) (provider.Provider, error)
}

// BudgetSource reports how much of the daily budget is already spent.
type BudgetSource interface {
	DailyUtilization(principal string) float64
}

// Oracle is the external cost oracle. Healthy is a local, cheap check;
// the remote calls are only made while it reports true.
type Oracle interface {
	Healthy() bool
	SuggestRoute(ctx context.Context, req routing.Request) (routing.Suggestion, error)
	RebalanceSuggestions(ctx context.Context) ([]routing.Rebalance, error)
	ListProviders(ctx context.Context) ([]provider.Provider, error)
}

// HistoryStore persists the decision history across restarts.
type HistoryStore interface {
	Append(ctx context.Context, d decision.Decision) error
	Recent(ctx context.Context, n int) ([]decision.Decision, error)
}
