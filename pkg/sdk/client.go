package paymesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/db"
	dbRedis "github.com/paymesh-io/paymesh/internal/db/redis"
	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
	domdecision "github.com/paymesh-io/paymesh/internal/domain/decision"
	dompayment "github.com/paymesh-io/paymesh/internal/domain/payment"
	domprov "github.com/paymesh-io/paymesh/internal/domain/provider"
	domrouting "github.com/paymesh-io/paymesh/internal/domain/routing"
	domusage "github.com/paymesh-io/paymesh/internal/domain/usage"
	budgetrepo "github.com/paymesh-io/paymesh/internal/repository/budget"
	decisionrepo "github.com/paymesh-io/paymesh/internal/repository/decision"
	providerrepo "github.com/paymesh-io/paymesh/internal/repository/provider"
	"github.com/paymesh-io/paymesh/internal/transport/ledger"
	"github.com/paymesh-io/paymesh/internal/transport/oracle"
	budgetuc "github.com/paymesh-io/paymesh/internal/usecase/budget"
	gatewayuc "github.com/paymesh-io/paymesh/internal/usecase/gateway"
	healthuc "github.com/paymesh-io/paymesh/internal/usecase/health"
	metricsuc "github.com/paymesh-io/paymesh/internal/usecase/metrics"
	paymentuc "github.com/paymesh-io/paymesh/internal/usecase/payment"
	policyuc "github.com/paymesh-io/paymesh/internal/usecase/policy"
	registryuc "github.com/paymesh-io/paymesh/internal/usecase/registry"
	scoringuc "github.com/paymesh-io/paymesh/internal/usecase/scoring"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultPrincipal        = "paymesh-agent"
)

// Internal interfaces so services can be substituted in tests.
type registryUseCase interface {
	Register(ctx context.Context, p domprov.Provider) error
	Get(id string) (domprov.Provider, error)
	List() []domprov.Provider
	Deactivate(ctx context.Context, id string) error
}

type paymentUseCase interface {
	Submit(ctx context.Context, p dompayment.Payment) (dompayment.Payment, error)
	Process(ctx context.Context, id string) (dompayment.Payment, error)
	Get(id string) (dompayment.Payment, error)
	List() []dompayment.Payment
	Cancel(id string) (dompayment.Payment, error)
}

type policyUseCase interface {
	MakeImmediateDecision(ctx context.Context, req domrouting.Request) (domrouting.Route, error)
	Evaluate(ctx context.Context) []domdecision.Decision
	History(n int) []domdecision.Decision
	Rebalancing() []domrouting.Rebalance
	RunRebalanceTick(ctx context.Context)
}

type budgetUseCase interface {
	Configure(ctx context.Context, principal string, daily, monthly, emergency float64) error
	Status(principal string) (dombudget.Status, error)
	Deactivate(ctx context.Context, principal string) error
}

type usageUseCase interface {
	Usage(window time.Duration) domusage.Metrics
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Client is the paymesh SDK entry point.
type Client struct {
	store       db.Store
	principal   string
	oracle      *oracle.Client
	registrySvc registryUseCase
	paymentSvc  paymentUseCase
	policySvc   policyUseCase
	budgetSvc   budgetUseCase
	usageSvc    usageUseCase
	healthSvc   healthUseCase
	obs         *observer
}

// New creates a paymesh Client and connects to the database.
// The provided context is used for the initial readiness check and
// for loading persisted state.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		principal:             defaultPrincipal,
		dailyLimit:            1.0,
		monthlyLimit:          10.0,
		maxCostPerTransaction: 0.01,
		reliabilityThreshold:  0.95,
		preferredChains:       []string{"REI", "Polygon"},
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("paymesh: database address required (use WithRedis)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("paymesh: create redis store: %w", err)
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("paymesh: database not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wireClient(ctx, store, cfg, obs)
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig, obs *observer) (*Client, error) {
	// Internal services log through zap; the SDK surfaces its own
	// slog/metrics observer instead.
	logger := zap.NewNop()

	usageStore := metricsuc.NewStore(logger)

	registry := registryuc.New(providerrepo.New(store), logger)
	if err := registry.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("paymesh: load providers: %w", err)
	}

	guard := budgetuc.NewGuard(logger).WithStore(ctx, budgetrepo.New(store))
	if err := guard.Configure(ctx, cfg.principal,
		cfg.dailyLimit, cfg.monthlyLimit, cfg.emergencyThreshold); err != nil {
		store.Close()
		return nil, fmt.Errorf("paymesh: configure budget: %w", err)
	}

	scorer := scoringuc.New(usageStore, scoringuc.DefaultLearningRate, logger)

	oracleClient := oracle.NewClient(&oracle.Config{
		BaseURL: cfg.oracleURL,
		APIKey:  cfg.oracleKey,
		Logger:  logger,
	})

	var ledgerSvc gatewayuc.Ledger = noopLedger{}
	if cfg.ledgerURL != "" {
		ledgerSvc = ledger.NewClient(&ledger.Config{
			BaseURL: cfg.ledgerURL,
			APIKey:  cfg.ledgerKey,
			Logger:  logger,
		})
	}

	gateway := gatewayuc.New(guard, ledgerSvc, registry, usageStore, logger)
	payments := paymentuc.New(gateway, logger)

	settings := policyuc.DefaultSettings()
	settings.MaxCostPerTransaction = cfg.maxCostPerTransaction
	settings.ReliabilityThreshold = cfg.reliabilityThreshold
	settings.PreferredChains = cfg.preferredChains

	engine := policyuc.New(usageStore, registry, scorer, guard, oracleClient, cfg.principal, logger).
		WithSettings(settings).
		WithHistoryStore(ctx, decisionrepo.New(store))

	return &Client{
		store:       store,
		principal:   cfg.principal,
		oracle:      oracleClient,
		registrySvc: registry,
		paymentSvc:  payments,
		policySvc:   engine,
		budgetSvc:   guard,
		usageSvc:    usageStore,
		healthSvc:   healthuc.New(store, oracleClient),
		obs:         obs,
	}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.oracle != nil {
		c.oracle.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ProbeOracle checks oracle reachability and updates its health state.
// Call it periodically when the oracle is configured; it is the only
// path back to healthy after a failure.
func (c *Client) ProbeOracle(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("oracle.probe", start, err) }()

	return c.oracle.Probe(ctx)
}

// Providers returns the provider registry service.
func (c *Client) Providers() *ProviderService {
	return &ProviderService{svc: c.registrySvc, obs: c.obs}
}

// Payments returns the payment service.
func (c *Client) Payments() *PaymentService {
	return &PaymentService{svc: c.paymentSvc, principal: c.principal, obs: c.obs}
}

// Routing returns the routing and policy service.
func (c *Client) Routing() *RoutingService {
	return &RoutingService{svc: c.policySvc, obs: c.obs}
}

// Budgets returns the budget management service.
func (c *Client) Budgets() *BudgetService {
	return &BudgetService{svc: c.budgetSvc, obs: c.obs}
}

// noopLedger rejects every payment (used when no ledger is configured).
type noopLedger struct{}

func (noopLedger) ReserveAndPay(context.Context, string, string, float64, string) (dompayment.Receipt, error) {
	return dompayment.Receipt{}, errors.New(
		"paymesh: ledger not configured (use WithLedger to execute payments)",
	)
}
