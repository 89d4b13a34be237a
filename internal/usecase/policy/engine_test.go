package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/decision"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
	"github.com/paymesh-io/paymesh/internal/domain/routing"
	"github.com/paymesh-io/paymesh/internal/domain/usage"
)

type fakeMetrics struct {
	usage      usage.Metrics
	rebalances []routing.Rebalance
}

func (f *fakeMetrics) Usage(time.Duration) usage.Metrics { return f.usage }

func (f *fakeMetrics) RebalanceSuggestions([]string, float64) []routing.Rebalance {
	return f.rebalances
}

type fakeRegistry struct {
	providers   map[string]provider.Provider
	deactivated []string
	registered  []string
}

func newFakeRegistry(ps ...provider.Provider) *fakeRegistry {
	f := &fakeRegistry{providers: make(map[string]provider.Provider)}
	for _, p := range ps {
		f.providers[p.ID] = p
	}
	return f
}

func (f *fakeRegistry) Get(id string) (provider.Provider, error) {
	p, ok := f.providers[id]
	if !ok {
		return provider.Provider{}, domain.ErrProviderNotRegistered
	}
	return p, nil
}

func (f *fakeRegistry) List() []provider.Provider {
	out := make([]provider.Provider, 0, len(f.providers))
	for _, p := range f.providers {
		out = append(out, p)
	}
	return out
}

func (f *fakeRegistry) Candidates(chain string, minReliability, maxCost float64) []provider.Provider {
	var out []provider.Provider
	for _, p := range f.providers {
		if p.Active && p.SupportsChain(chain) && p.Reliability >= minReliability && p.Price() <= maxCost {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeRegistry) ActiveCount() int {
	n := 0
	for _, p := range f.providers {
		if p.Active {
			n++
		}
	}
	return n
}

func (f *fakeRegistry) Register(_ context.Context, p provider.Provider) error {
	if _, ok := f.providers[p.ID]; ok {
		return domain.ErrProviderExists
	}
	p.Active = true
	f.providers[p.ID] = p
	f.registered = append(f.registered, p.ID)
	return nil
}

func (f *fakeRegistry) Deactivate(_ context.Context, id string) error {
	p, ok := f.providers[id]
	if !ok {
		return domain.ErrProviderNotRegistered
	}
	p.Active = false
	f.providers[id] = p
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeSelector struct {
	pick provider.Provider
	err  error
}

func (f *fakeSelector) SelectOptimal(candidates []provider.Provider, _ routing.Request) (provider.Provider, error) {
	if f.err != nil {
		return provider.Provider{}, f.err
	}
	if f.pick.ID != "" {
		return f.pick, nil
	}
	if len(candidates) == 0 {
		return provider.Provider{}, domain.ErrNoProvidersAvailable
	}
	return candidates[0], nil
}

type fakeBudget struct{ utilization float64 }

func (f *fakeBudget) DailyUtilization(string) float64 { return f.utilization }

type fakeOracle struct {
	healthy    bool
	suggestion routing.Suggestion
	suggestErr error
	providers  []provider.Provider
	rebalances []routing.Rebalance
}

func (f *fakeOracle) Healthy() bool { return f.healthy }

func (f *fakeOracle) SuggestRoute(context.Context, routing.Request) (routing.Suggestion, error) {
	return f.suggestion, f.suggestErr
}

func (f *fakeOracle) RebalanceSuggestions(context.Context) ([]routing.Rebalance, error) {
	return f.rebalances, nil
}

func (f *fakeOracle) ListProviders(context.Context) ([]provider.Provider, error) {
	return f.providers, nil
}

type fakeHistory struct {
	appended []decision.Decision
	loaded   []decision.Decision
}

func (f *fakeHistory) Append(_ context.Context, d decision.Decision) error {
	f.appended = append(f.appended, d)
	return nil
}

func (f *fakeHistory) Recent(context.Context, int) ([]decision.Decision, error) {
	return f.loaded, nil
}

func healthyUsage() usage.Metrics {
	return usage.Metrics{
		TotalRequests:         100,
		SuccessfulPayments:    95,
		CostEfficiency:        0.95,
		AverageResponseMillis: 400,
	}
}

func activeProviders() []provider.Provider {
	return []provider.Provider{
		{ID: "rei-1", Chains: []string{"REI"}, CostPerCall: 0.002, Reliability: 0.99, Active: true},
		{ID: "poly-1", Chains: []string{"Polygon"}, CostPerCall: 0.003, Reliability: 0.98, Active: true},
	}
}

func newEngine(m *fakeMetrics, r *fakeRegistry, b *fakeBudget, o *fakeOracle) *Engine {
	return New(m, r, &fakeSelector{}, b, o, "agent-1", zap.NewNop())
}

func TestEvaluate_HealthySystem_NoDecisions(t *testing.T) {
	e := newEngine(
		&fakeMetrics{usage: healthyUsage()},
		newFakeRegistry(activeProviders()...),
		&fakeBudget{utilization: 0.3},
		&fakeOracle{healthy: true},
	)
	if got := e.Evaluate(context.Background()); len(got) != 0 {
		t.Errorf("expected no decisions, got %+v", got)
	}
}

func TestEvaluate_DegradedEfficiencyAndBudget(t *testing.T) {
	m := &fakeMetrics{usage: usage.Metrics{
		TotalRequests:         100,
		SuccessfulPayments:    75,
		CostEfficiency:        0.75,
		AverageResponseMillis: 400,
	}}
	registry := newFakeRegistry(
		provider.Provider{ID: "rei-1", Chains: []string{"REI"}, Reliability: 0.99, Active: true},
		provider.Provider{ID: "flaky", Chains: []string{"REI"}, Reliability: 0.7, Active: true},
	)
	e := newEngine(m, registry, &fakeBudget{utilization: 0.85}, &fakeOracle{healthy: true})

	got := e.Evaluate(context.Background())
	if len(got) != 2 {
		t.Fatalf("expected 2 decisions, got %d: %+v", len(got), got)
	}

	byAction := make(map[decision.Action]decision.Decision)
	for _, d := range got {
		byAction[d.Action] = d
	}

	opt, ok := byAction[decision.ActionOptimizeProviders]
	if !ok {
		t.Fatal("expected an optimize_providers decision")
	}
	if opt.Priority != decision.PriorityHigh || !opt.Executed {
		t.Errorf("optimize decision = %+v, want executed high priority", opt)
	}
	if opt.Payload.TargetEfficiency != 0.9 {
		t.Errorf("target efficiency = %v, want 0.9", opt.Payload.TargetEfficiency)
	}
	if len(registry.deactivated) != 1 || registry.deactivated[0] != "flaky" {
		t.Errorf("deactivated = %v, want [flaky]", registry.deactivated)
	}

	bm, ok := byAction[decision.ActionBudgetManagement]
	if !ok {
		t.Fatal("expected a budget_management decision")
	}
	if bm.Priority != decision.PriorityHigh || !bm.Executed {
		t.Errorf("budget decision = %+v, want executed high priority", bm)
	}

	s := e.Settings()
	if s.MaxCostPerTransaction < 0.008-1e-12 || s.MaxCostPerTransaction > 0.008+1e-12 {
		t.Errorf("max cost = %v, want cut 20%% to 0.008", s.MaxCostPerTransaction)
	}
	if s.RebalanceFrequency != 2*time.Hour {
		t.Errorf("rebalance frequency = %v, want doubled to 2h", s.RebalanceFrequency)
	}
}

func TestEvaluate_SlowResponses_RaisesReliabilityFloor(t *testing.T) {
	m := &fakeMetrics{usage: usage.Metrics{
		TotalRequests:         50,
		SuccessfulPayments:    50,
		CostEfficiency:        1.0,
		AverageResponseMillis: 6000,
	}}
	e := newEngine(m, newFakeRegistry(activeProviders()...), &fakeBudget{}, &fakeOracle{healthy: true})

	got := e.Evaluate(context.Background())
	if len(got) != 1 || got[0].Action != decision.ActionImproveSpeed {
		t.Fatalf("expected improve_speed, got %+v", got)
	}
	if s := e.Settings(); s.ReliabilityThreshold != 0.97 {
		t.Errorf("reliability threshold = %v, want 0.97", s.ReliabilityThreshold)
	}
}

func TestEvaluate_FewProviders_DiscoversFromOracle(t *testing.T) {
	registry := newFakeRegistry(
		provider.Provider{ID: "rei-1", Chains: []string{"REI"}, Reliability: 0.99, Active: true},
	)
	oracle := &fakeOracle{
		healthy: true,
		providers: []provider.Provider{
			{ID: "rei-1", Chains: []string{"REI"}},
			{ID: "poly-9", Chains: []string{"Polygon"}, Reliability: 0.9},
		},
	}
	e := newEngine(&fakeMetrics{usage: healthyUsage()}, registry, &fakeBudget{}, oracle)

	got := e.Evaluate(context.Background())
	if len(got) != 1 || got[0].Action != decision.ActionDiscoverProviders {
		t.Fatalf("expected discover_providers, got %+v", got)
	}
	if !got[0].Executed {
		t.Errorf("decision not executed: %+v", got[0])
	}
	if len(registry.registered) != 1 || registry.registered[0] != "poly-9" {
		t.Errorf("registered = %v, want only the unknown provider", registry.registered)
	}
}

func TestEvaluate_DiscoveryWithOracleDown_RecordsError(t *testing.T) {
	registry := newFakeRegistry()
	e := newEngine(&fakeMetrics{usage: healthyUsage()}, registry, &fakeBudget{}, &fakeOracle{healthy: false})

	got := e.Evaluate(context.Background())
	if len(got) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(got))
	}
	d := got[0]
	if d.Executed {
		t.Error("decision should not be marked executed")
	}
	if d.Error == "" {
		t.Error("expected execution error on decision")
	}
}

func TestEvaluate_SameActionDeduped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &fakeMetrics{usage: usage.Metrics{TotalRequests: 10, CostEfficiency: 0.5}}
	e := newEngine(m, newFakeRegistry(activeProviders()...), &fakeBudget{}, &fakeOracle{healthy: true}).
		WithClock(func() time.Time { return now })

	if got := e.Evaluate(context.Background()); len(got) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(got))
	}
	if got := e.Evaluate(context.Background()); len(got) != 0 {
		t.Errorf("expected repeat to be deduped, got %+v", got)
	}

	now = now.Add(61 * time.Minute)
	if got := e.Evaluate(context.Background()); len(got) != 1 {
		t.Errorf("expected decision after dedupe window, got %d", len(got))
	}
}

func TestEvaluate_AutoOptimizationOff(t *testing.T) {
	m := &fakeMetrics{usage: usage.Metrics{TotalRequests: 10, CostEfficiency: 0.1}}
	e := newEngine(m, newFakeRegistry(), &fakeBudget{utilization: 1}, &fakeOracle{})

	s := e.Settings()
	s.AutoOptimization = false
	if err := e.UpdateSettings(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.Evaluate(context.Background()); got != nil {
		t.Errorf("expected nil with auto optimization off, got %+v", got)
	}
}

func TestMakeImmediateDecision_OracleRoute(t *testing.T) {
	registry := newFakeRegistry(activeProviders()...)
	oracle := &fakeOracle{healthy: true, suggestion: routing.Suggestion{ProviderID: "poly-1"}}
	e := newEngine(&fakeMetrics{}, registry, &fakeBudget{}, oracle)

	route, err := e.MakeImmediateDecision(context.Background(), routing.Request{Chain: "Polygon", Amount: 0.002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ProviderID != "poly-1" || route.Source != routing.SourceOracle {
		t.Errorf("route = %+v, want oracle route to poly-1", route)
	}
	if route.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", route.Confidence)
	}
}

func TestMakeImmediateDecision_DegradedFallsBackToLocal(t *testing.T) {
	registry := newFakeRegistry(activeProviders()...)
	e := newEngine(&fakeMetrics{}, registry, &fakeBudget{}, &fakeOracle{healthy: false})

	route, err := e.MakeImmediateDecision(context.Background(), routing.Request{Chain: "REI", Amount: 0.002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ProviderID != "rei-1" || route.Source != routing.SourceLocal {
		t.Errorf("route = %+v, want local route to rei-1", route)
	}
	if route.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", route.Confidence)
	}
}

func TestMakeImmediateDecision_UnknownOracleProviderFallsBack(t *testing.T) {
	registry := newFakeRegistry(activeProviders()...)
	oracle := &fakeOracle{healthy: true, suggestion: routing.Suggestion{ProviderID: "ghost"}}
	e := newEngine(&fakeMetrics{}, registry, &fakeBudget{}, oracle)

	route, err := e.MakeImmediateDecision(context.Background(), routing.Request{Chain: "REI", Amount: 0.002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Source != routing.SourceLocal {
		t.Errorf("source = %s, want local fallback", route.Source)
	}
}

func TestMakeImmediateDecision_OracleErrorFallsBack(t *testing.T) {
	registry := newFakeRegistry(activeProviders()...)
	oracle := &fakeOracle{healthy: true, suggestErr: errors.New("timeout")}
	e := newEngine(&fakeMetrics{}, registry, &fakeBudget{}, oracle)

	route, err := e.MakeImmediateDecision(context.Background(), routing.Request{Chain: "REI", Amount: 0.002})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Source != routing.SourceLocal {
		t.Errorf("source = %s, want local fallback on oracle error", route.Source)
	}
}

func TestMakeImmediateDecision_NoCandidates(t *testing.T) {
	e := newEngine(&fakeMetrics{}, newFakeRegistry(), &fakeBudget{}, &fakeOracle{healthy: false})

	_, err := e.MakeImmediateDecision(context.Background(), routing.Request{Chain: "REI", Amount: 0.002})
	if !errors.Is(err, domain.ErrNoSuitableProvider) {
		t.Errorf("error = %v, want ErrNoSuitableProvider", err)
	}
}

func TestRunRebalanceTick_ThrottledAndMerged(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &fakeMetrics{rebalances: []routing.Rebalance{
		{FromChain: "REI", ToChain: "Polygon", Reason: "low success rate"},
	}}
	oracle := &fakeOracle{healthy: true, rebalances: []routing.Rebalance{
		{FromChain: "REI", ToChain: "Polygon", Reason: "duplicate of local"},
		{FromChain: "Polygon", ToChain: "REI", Reason: "cheaper gas"},
	}}
	e := newEngine(m, newFakeRegistry(), &fakeBudget{}, oracle).
		WithClock(func() time.Time { return now })

	// the first tick is due immediately (zero lastRebalance)
	e.RunRebalanceTick(context.Background())
	got := e.Rebalancing()
	if len(got) != 2 {
		t.Fatalf("expected 2 merged suggestions, got %+v", got)
	}
	if got[0].Reason != "low success rate" {
		t.Errorf("local suggestion should win on duplicate pair, got %+v", got[0])
	}

	// within the frequency window nothing changes
	m.rebalances = nil
	e.RunRebalanceTick(context.Background())
	if got := e.Rebalancing(); len(got) != 2 {
		t.Errorf("tick inside frequency window should be a no-op, got %+v", got)
	}

	now = now.Add(2 * time.Hour)
	oracle.rebalances = []routing.Rebalance{{FromChain: "Polygon", ToChain: "REI", Reason: "cheaper gas"}}
	e.RunRebalanceTick(context.Background())
	if got := e.Rebalancing(); len(got) != 1 {
		t.Errorf("expected refreshed suggestions, got %+v", got)
	}
}

func TestHistory_PersistedAndBounded(t *testing.T) {
	hist := &fakeHistory{loaded: []decision.Decision{
		{ID: "old-1", Action: decision.ActionImproveSpeed, CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}}
	m := &fakeMetrics{usage: usage.Metrics{TotalRequests: 10, CostEfficiency: 0.5}}
	e := newEngine(m, newFakeRegistry(activeProviders()...), &fakeBudget{}, &fakeOracle{healthy: true}).
		WithHistoryStore(context.Background(), hist)

	if got := e.History(0); len(got) != 1 || got[0].ID != "old-1" {
		t.Fatalf("loaded history = %+v, want the persisted decision", got)
	}

	decisions := e.Evaluate(context.Background())
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if len(hist.appended) != 1 || hist.appended[0].ID != decisions[0].ID {
		t.Errorf("decision not persisted: %+v", hist.appended)
	}

	got := e.History(0)
	if len(got) != 2 || got[0].ID != decisions[0].ID {
		t.Errorf("history = %+v, want newest first", got)
	}
}

func TestUpdateSettings_Validation(t *testing.T) {
	e := newEngine(&fakeMetrics{}, newFakeRegistry(), &fakeBudget{}, &fakeOracle{})

	bad := DefaultSettings()
	bad.MaxCostPerTransaction = 0
	if err := e.UpdateSettings(bad); err == nil {
		t.Error("expected error for zero max cost")
	}

	bad = DefaultSettings()
	bad.ReliabilityThreshold = 1.5
	if err := e.UpdateSettings(bad); err == nil {
		t.Error("expected error for out-of-range reliability threshold")
	}
}
