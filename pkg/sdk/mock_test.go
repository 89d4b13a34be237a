package paymesh

import (
	"context"

	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
	domdecision "github.com/paymesh-io/paymesh/internal/domain/decision"
	dompayment "github.com/paymesh-io/paymesh/internal/domain/payment"
	domprov "github.com/paymesh-io/paymesh/internal/domain/provider"
	domrouting "github.com/paymesh-io/paymesh/internal/domain/routing"
)

type mockRegistryUC struct {
	registerFn   func(ctx context.Context, p domprov.Provider) error
	getFn        func(id string) (domprov.Provider, error)
	listFn       func() []domprov.Provider
	deactivateFn func(ctx context.Context, id string) error
}

func (m *mockRegistryUC) Register(ctx context.Context, p domprov.Provider) error {
	return m.registerFn(ctx, p)
}

func (m *mockRegistryUC) Get(id string) (domprov.Provider, error) { return m.getFn(id) }

func (m *mockRegistryUC) List() []domprov.Provider { return m.listFn() }

func (m *mockRegistryUC) Deactivate(ctx context.Context, id string) error {
	return m.deactivateFn(ctx, id)
}

type mockPaymentUC struct {
	submitFn  func(ctx context.Context, p dompayment.Payment) (dompayment.Payment, error)
	processFn func(ctx context.Context, id string) (dompayment.Payment, error)
	getFn     func(id string) (dompayment.Payment, error)
	listFn    func() []dompayment.Payment
	cancelFn  func(id string) (dompayment.Payment, error)
}

func (m *mockPaymentUC) Submit(ctx context.Context, p dompayment.Payment) (dompayment.Payment, error) {
	return m.submitFn(ctx, p)
}

func (m *mockPaymentUC) Process(ctx context.Context, id string) (dompayment.Payment, error) {
	return m.processFn(ctx, id)
}

func (m *mockPaymentUC) Get(id string) (dompayment.Payment, error) { return m.getFn(id) }

func (m *mockPaymentUC) List() []dompayment.Payment { return m.listFn() }

func (m *mockPaymentUC) Cancel(id string) (dompayment.Payment, error) { return m.cancelFn(id) }

type mockPolicyUC struct {
	decideFn      func(ctx context.Context, req domrouting.Request) (domrouting.Route, error)
	evaluateFn    func(ctx context.Context) []domdecision.Decision
	historyFn     func(n int) []domdecision.Decision
	rebalancingFn func() []domrouting.Rebalance
	tickFn        func(ctx context.Context)
}

func (m *mockPolicyUC) MakeImmediateDecision(ctx context.Context, req domrouting.Request) (domrouting.Route, error) {
	return m.decideFn(ctx, req)
}

func (m *mockPolicyUC) Evaluate(ctx context.Context) []domdecision.Decision {
	return m.evaluateFn(ctx)
}

func (m *mockPolicyUC) History(n int) []domdecision.Decision { return m.historyFn(n) }

func (m *mockPolicyUC) Rebalancing() []domrouting.Rebalance { return m.rebalancingFn() }

func (m *mockPolicyUC) RunRebalanceTick(ctx context.Context) {
	if m.tickFn != nil {
		m.tickFn(ctx)
	}
}

type mockBudgetUC struct {
	configureFn  func(ctx context.Context, principal string, daily, monthly, emergency float64) error
	statusFn     func(principal string) (dombudget.Status, error)
	deactivateFn func(ctx context.Context, principal string) error
}

func (m *mockBudgetUC) Configure(ctx context.Context, principal string, daily, monthly, emergency float64) error {
	return m.configureFn(ctx, principal, daily, monthly, emergency)
}

func (m *mockBudgetUC) Status(principal string) (dombudget.Status, error) {
	return m.statusFn(principal)
}

func (m *mockBudgetUC) Deactivate(ctx context.Context, principal string) error {
	return m.deactivateFn(ctx, principal)
}
