// Package gateway executes payments: it reserves budget, settles the
// payment on the ledger and folds the outcome back into provider and
// usage state.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/payment"
)

// Gateway serializes execution per principal so a reservation and the
// ledger settlement it guards are never interleaved with a concurrent
// payment for the same principal.
type Gateway struct {
	guard    BudgetGuard
	ledger   Ledger
	registry Registry
	usage    UsageRecorder
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(guard BudgetGuard, ledger Ledger, registry Registry, usage UsageRecorder, logger *zap.Logger) *Gateway {
	return &Gateway{
		guard:    guard,
		ledger:   ledger,
		registry: registry,
		usage:    usage,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (g *Gateway) principalLock(principal string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[principal]
	if !ok {
		l = &sync.Mutex{}
		g.locks[principal] = l
	}
	return l
}

// Execute runs one payment end to end: budget reservation, ledger
// settlement, outcome bookkeeping. On a ledger failure the reservation
// is released and the failure is still recorded against the provider,
// so a flaky provider loses reliability even though no money moved.
func (g *Gateway) Execute(ctx context.Context, p payment.Payment, elevated bool) (payment.Receipt, error) {
	prov, err := g.registry.Get(p.ProviderID)
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("resolve provider %s: %w", p.ProviderID, err)
	}

	lock := g.principalLock(p.Principal)
	lock.Lock()
	defer lock.Unlock()

	if err := g.guard.CheckAndReserve(ctx, p.Principal, p.Amount, elevated); err != nil {
		return payment.Receipt{}, fmt.Errorf("reserve budget: %w", err)
	}

	start := time.Now()
	receipt, err := g.ledger.ReserveAndPay(ctx, p.Principal, prov.Endpoint, p.Amount, p.ServiceType)
	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil || !receipt.Success {
		g.guard.Release(ctx, p.Principal, p.Amount)
		g.usage.RecordUsage(p.Chain, p.ProviderID, p.Amount, false, elapsed)
		g.registry.ObserveOutcome(ctx, p.ProviderID, false)
		g.logger.Warn("payment rejected by ledger",
			zap.String("payment_id", p.ID),
			zap.String("provider_id", p.ProviderID),
			zap.Float64("amount", p.Amount),
			zap.Error(err))
		if err != nil {
			return payment.Receipt{}, fmt.Errorf("%w: %w", domain.ErrPaymentRejected, err)
		}
		return payment.Receipt{}, domain.ErrPaymentRejected
	}

	g.usage.RecordUsage(p.Chain, p.ProviderID, p.Amount, true, elapsed)
	g.registry.ObserveOutcome(ctx, p.ProviderID, true)
	g.logger.Info("payment executed",
		zap.String("payment_id", p.ID),
		zap.String("provider_id", p.ProviderID),
		zap.String("tx_id", receipt.TxID),
		zap.Float64("amount", p.Amount))
	return receipt, nil
}
