package chi

import (
	"context"
	"time"

	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
	"github.com/paymesh-io/paymesh/internal/domain/usage"
)

// Registry is the provider pool surface used by the API.
type Registry interface {
	Register(ctx context.Context, p provider.Provider) error
	Get(id string) (provider.Provider, error)
	List() []provider.Provider
	Deactivate(ctx context.Context, id string) error
}

// BudgetGuard is the budget management surface used by the API.
type BudgetGuard interface {
	Configure(ctx context.Context, principal string, daily, monthly, emergency float64) error
	Status(principal string) (dombudget.Status, error)
	Deactivate(ctx context.Context, principal string) error
}

// UsageSource reports aggregated usage for a lookback window.
type UsageSource interface {
	Usage(window time.Duration) usage.Metrics
}

// FeedbackSink accepts provider call feedback.
type FeedbackSink interface {
	AddFeedback(providerID string, quality, responseMillis, cost float64)
}
