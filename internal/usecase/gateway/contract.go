package gateway

import (
	"context"

	"github.com/paymesh-io/paymesh/internal/domain/payment"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
)

// BudgetGuard is the consumer interface for budget enforcement (ISP).
type BudgetGuard interface {
	CheckAndReserve(ctx context.Context, principal string, amount float64, elevated bool) error
	Release(ctx context.Context, principal string, amount float64)
}

// Ledger settles payments against the on-chain ledger.
type Ledger interface {
	ReserveAndPay(ctx context.Context, principal, providerAddr string, amount float64, serviceType string) (payment.Receipt, error)
}

// Registry resolves providers and records call outcomes.
type Registry interface {
	Get(id string) (provider.Provider, error)
	ObserveOutcome(ctx context.Context, id string, success bool)
}

// UsageRecorder folds executed calls into the usage history.
type UsageRecorder interface {
	RecordUsage(chain, providerID string, cost float64, success bool, responseMillis float64)
}
