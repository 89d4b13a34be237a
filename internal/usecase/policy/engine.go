// Package policy is the agent's decision core: a periodic rule pass
// that turns usage metrics into corrective actions, plus immediate
// per-request routing with a degraded-mode fallback.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/decision"
	"github.com/paymesh-io/paymesh/internal/domain/routing"
	"github.com/paymesh-io/paymesh/internal/metrics"
)

const (
	// usageWindow is the lookback for the periodic rule pass.
	usageWindow = time.Hour
	// dedupeWindow suppresses a repeat of the same action.
	dedupeWindow = time.Hour
	// historyCap bounds the in-memory decision history.
	historyCap = 200

	// Rule thresholds and payload constants.
	lowEfficiency       = 0.8
	targetEfficiency    = 0.9
	slowResponseMillis  = 5000
	minRouteReliability = 0.97
	highUtilization     = 0.8
	costCutFactor       = 0.8
	minActiveProviders  = 2
	targetProviderCount = 3

	// Route confidence by source.
	oracleConfidence = 0.95
	localConfidence  = 0.8

	defaultOracleTimeout = 5 * time.Second
)

// Engine evaluates the rule table, executes the resulting decisions
// and answers immediate routing requests.
type Engine struct {
	metrics   MetricsSource
	registry  Registry
	selector  Selector
	budget    BudgetSource
	oracle    Oracle
	logger    *zap.Logger
	now       func() time.Time
	principal string

	oracleTimeout time.Duration

	mu            sync.Mutex
	settings      Settings
	decisions     []decision.Decision // newest first
	history       HistoryStore
	lastRebalance time.Time
	rebalances    []routing.Rebalance
}

// New creates a policy engine with default settings. principal is the
// agent's own budget identity, used for utilization checks.
func New(m MetricsSource, r Registry, sel Selector, b BudgetSource, o Oracle, principal string, logger *zap.Logger) *Engine {
	return &Engine{
		metrics:       m,
		registry:      r,
		selector:      sel,
		budget:        b,
		oracle:        o,
		logger:        logger,
		now:           time.Now,
		principal:     principal,
		oracleTimeout: defaultOracleTimeout,
		settings:      DefaultSettings(),
	}
}

// WithSettings replaces the initial settings.
func (e *Engine) WithSettings(s Settings) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s.clone()
	return e
}

// WithClock replaces the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithHistoryStore attaches decision persistence and loads the
// persisted history. Persistence failures are logged, never fatal.
func (e *Engine) WithHistoryStore(ctx context.Context, store HistoryStore) *Engine {
	loaded, err := store.Recent(ctx, historyCap)
	if err != nil {
		e.logger.Warn("failed to load decision history", zap.Error(err))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = store
	e.decisions = loaded
	if len(loaded) > 0 {
		e.logger.Info("decision history loaded", zap.Int("decisions", len(loaded)))
	}
	return e
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.clone()
}

// UpdateSettings validates and applies new settings.
func (e *Engine) UpdateSettings(s Settings) error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s.clone()
	return nil
}

// History returns up to n decisions, newest first.
func (e *Engine) History(n int) []decision.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.decisions) {
		n = len(e.decisions)
	}
	out := make([]decision.Decision, n)
	copy(out, e.decisions[:n])
	return out
}

// Evaluate runs one pass of the rule table and executes every decision
// it produces. Decisions execute in isolation: one failing action is
// recorded on the decision and does not stop the rest.
func (e *Engine) Evaluate(ctx context.Context) []decision.Decision {
	e.mu.Lock()
	settings := e.settings.clone()
	e.mu.Unlock()

	if !settings.AutoOptimization {
		return nil
	}

	m := e.metrics.Usage(usageWindow)
	utilization := e.budget.DailyUtilization(e.principal)
	active := e.registry.ActiveCount()

	var pending []decision.Decision
	if m.CostEfficiency < lowEfficiency {
		pending = append(pending, e.newDecision(
			decision.ActionOptimizeProviders, decision.PriorityHigh,
			fmt.Sprintf("cost efficiency %.2f below %.2f", m.CostEfficiency, lowEfficiency),
			decision.Payload{TargetEfficiency: targetEfficiency},
		))
	}
	if m.AverageResponseMillis > slowResponseMillis {
		pending = append(pending, e.newDecision(
			decision.ActionImproveSpeed, decision.PriorityMedium,
			fmt.Sprintf("average response %.0fms above %dms", m.AverageResponseMillis, slowResponseMillis),
			decision.Payload{MinReliability: minRouteReliability},
		))
	}
	if utilization > highUtilization {
		pending = append(pending, e.newDecision(
			decision.ActionBudgetManagement, decision.PriorityHigh,
			fmt.Sprintf("daily budget %.0f%% utilized", utilization*100),
			decision.Payload{CostCutFactor: costCutFactor},
		))
	}
	if active < minActiveProviders {
		pending = append(pending, e.newDecision(
			decision.ActionDiscoverProviders, decision.PriorityMedium,
			fmt.Sprintf("only %d active providers", active),
			decision.Payload{TargetProviderCount: targetProviderCount},
		))
	}

	var executed []decision.Decision
	for _, d := range pending {
		if e.recentlyDecided(d.Action) {
			continue
		}
		if err := e.execute(ctx, d); err != nil {
			d.Error = err.Error()
			metrics.DecisionsTotal.WithLabelValues(string(d.Action), string(d.Priority), "failed").Inc()
			e.logger.Error("decision execution failed",
				zap.String("decision_id", d.ID),
				zap.String("action", string(d.Action)),
				zap.Error(err))
		} else {
			d.Executed = true
			metrics.DecisionsTotal.WithLabelValues(string(d.Action), string(d.Priority), "executed").Inc()
			e.logger.Info("decision executed",
				zap.String("decision_id", d.ID),
				zap.String("action", string(d.Action)),
				zap.String("reason", d.Reason))
		}
		e.record(ctx, d)
		executed = append(executed, d)
	}
	return executed
}

func (e *Engine) newDecision(action decision.Action, priority decision.Priority, reason string, payload decision.Payload) decision.Decision {
	return decision.Decision{
		ID:        uuid.NewString(),
		Action:    action,
		Priority:  priority,
		Reason:    reason,
		Payload:   payload,
		CreatedAt: e.now(),
	}
}

// recentlyDecided reports whether the same action was already taken
// inside the dedupe window.
func (e *Engine) recentlyDecided(action decision.Action) bool {
	cutoff := e.now().Add(-dedupeWindow)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.decisions {
		if d.CreatedAt.Before(cutoff) {
			return false
		}
		if d.Action == action {
			return true
		}
	}
	return false
}

func (e *Engine) record(ctx context.Context, d decision.Decision) {
	e.mu.Lock()
	e.decisions = append([]decision.Decision{d}, e.decisions...)
	if len(e.decisions) > historyCap {
		e.decisions = e.decisions[:historyCap]
	}
	store := e.history
	e.mu.Unlock()

	if store == nil {
		return
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := store.Append(persistCtx, d); err != nil {
		e.logger.Warn("failed to persist decision",
			zap.String("decision_id", d.ID),
			zap.Error(err))
	}
}

func (e *Engine) execute(ctx context.Context, d decision.Decision) error {
	switch d.Action {
	case decision.ActionOptimizeProviders:
		return e.optimizeProviders(ctx)
	case decision.ActionImproveSpeed:
		return e.improveSpeed(d.Payload.MinReliability)
	case decision.ActionBudgetManagement:
		return e.tightenBudget(d.Payload.CostCutFactor)
	case decision.ActionDiscoverProviders:
		return e.discoverProviders(ctx)
	}
	return fmt.Errorf("unknown action %q", d.Action)
}

// optimizeProviders deactivates providers whose observed reliability
// dropped below the threshold, pushing traffic to the rest.
func (e *Engine) optimizeProviders(ctx context.Context) error {
	e.mu.Lock()
	threshold := e.settings.ReliabilityThreshold
	e.mu.Unlock()

	var dropped int
	for _, p := range e.registry.List() {
		if !p.Active || p.Reliability >= threshold {
			continue
		}
		if err := e.registry.Deactivate(ctx, p.ID); err != nil {
			return fmt.Errorf("deactivate provider %s: %w", p.ID, err)
		}
		dropped++
		e.logger.Info("unreliable provider deactivated",
			zap.String("provider_id", p.ID),
			zap.Float64("reliability", p.Reliability))
	}
	if dropped > 0 && e.registry.ActiveCount() == 0 {
		return domain.ErrNoProvidersAvailable
	}
	return nil
}

// improveSpeed raises the reliability floor; reliable providers answer
// faster in practice.
func (e *Engine) improveSpeed(minReliability float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if minReliability > e.settings.ReliabilityThreshold {
		e.settings.ReliabilityThreshold = minReliability
	}
	return nil
}

// tightenBudget cuts the per-transaction cap and slows rebalancing to
// reduce spend for the rest of the window.
func (e *Engine) tightenBudget(cutFactor float64) error {
	if cutFactor <= 0 || cutFactor >= 1 {
		return fmt.Errorf("cost cut factor must be in (0, 1), got %v", cutFactor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.MaxCostPerTransaction *= cutFactor
	e.settings.RebalanceFrequency *= 2
	return nil
}

// discoverProviders pulls the oracle's provider list and registers the
// ones this agent does not know yet.
func (e *Engine) discoverProviders(ctx context.Context) error {
	if !e.oracle.Healthy() {
		return fmt.Errorf("discover providers: %w", domain.ErrOracleUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()
	remote, err := e.oracle.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list oracle providers: %w", err)
	}

	var added int
	for _, p := range remote {
		if err := e.registry.Register(ctx, p); err != nil {
			if errors.Is(err, domain.ErrProviderExists) {
				continue
			}
			return fmt.Errorf("register discovered provider %s: %w", p.ID, err)
		}
		added++
	}
	e.logger.Info("provider discovery finished",
		zap.Int("remote", len(remote)),
		zap.Int("added", added))
	return nil
}

// MakeImmediateDecision routes one request right now. A healthy oracle
// answers with high confidence; otherwise the local scorer picks from
// the registry at reduced confidence.
func (e *Engine) MakeImmediateDecision(ctx context.Context, req routing.Request) (routing.Route, error) {
	e.mu.Lock()
	settings := e.settings.clone()
	e.mu.Unlock()

	if req.MaxCost <= 0 {
		req.MaxCost = settings.MaxCostPerTransaction
	}

	if e.oracle.Healthy() {
		if route, ok := e.askOracle(ctx, req); ok {
			return route, nil
		}
	}

	candidates := e.registry.Candidates(req.Chain, settings.ReliabilityThreshold, req.MaxCost)
	best, err := e.selector.SelectOptimal(candidates, req)
	if err != nil {
		return routing.Route{}, fmt.Errorf("no local route for chain %s: %w", req.Chain, domain.ErrNoSuitableProvider)
	}

	return routing.Route{
		ProviderID: best.ID,
		Confidence: localConfidence,
		Source:     routing.SourceLocal,
		DecidedAt:  e.now(),
	}, nil
}

// askOracle tries the oracle route; any failure falls through to the
// local path. The oracle may name a provider this agent never
// registered, which is treated as a miss.
func (e *Engine) askOracle(ctx context.Context, req routing.Request) (routing.Route, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()

	sugg, err := e.oracle.SuggestRoute(ctx, req)
	if err != nil {
		e.logger.Warn("oracle route failed, falling back to local scoring", zap.Error(err))
		return routing.Route{}, false
	}
	if _, err := e.registry.Get(sugg.ProviderID); err != nil {
		e.logger.Warn("oracle suggested unknown provider",
			zap.String("provider_id", sugg.ProviderID))
		return routing.Route{}, false
	}
	return routing.Route{
		ProviderID: sugg.ProviderID,
		Confidence: oracleConfidence,
		Source:     routing.SourceOracle,
		DecidedAt:  e.now(),
	}, true
}

// RunRebalanceTick refreshes the rebalancing suggestions, throttled by
// the settings frequency. Local suggestions always apply; the oracle's
// are merged in while it is healthy.
func (e *Engine) RunRebalanceTick(ctx context.Context) {
	e.mu.Lock()
	settings := e.settings.clone()
	due := e.now().Sub(e.lastRebalance) >= settings.RebalanceFrequency
	e.mu.Unlock()
	if !due {
		return
	}

	suggestions := e.metrics.RebalanceSuggestions(settings.PreferredChains, settings.ReliabilityThreshold)
	if e.oracle.Healthy() {
		oracleCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
		remote, err := e.oracle.RebalanceSuggestions(oracleCtx)
		cancel()
		if err != nil {
			e.logger.Warn("oracle rebalance suggestions failed", zap.Error(err))
		} else {
			suggestions = mergeRebalances(suggestions, remote)
		}
	}

	e.mu.Lock()
	e.lastRebalance = e.now()
	e.rebalances = suggestions
	e.mu.Unlock()

	if len(suggestions) > 0 {
		e.logger.Info("rebalancing suggestions updated", zap.Int("suggestions", len(suggestions)))
	}
}

// Rebalancing returns the latest suggestions.
func (e *Engine) Rebalancing() []routing.Rebalance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]routing.Rebalance, len(e.rebalances))
	copy(out, e.rebalances)
	return out
}

// mergeRebalances appends remote suggestions that do not duplicate a
// local one for the same chain pair.
func mergeRebalances(local, remote []routing.Rebalance) []routing.Rebalance {
	seen := make(map[string]struct{}, len(local))
	for _, r := range local {
		seen[r.FromChain+"->"+r.ToChain] = struct{}{}
	}
	out := local
	for _, r := range remote {
		if _, ok := seen[r.FromChain+"->"+r.ToChain]; ok {
			continue
		}
		out = append(out, r)
	}
	return out
}
