package paymesh

import (
	"context"
	"fmt"
	"time"

	domdecision "github.com/paymesh-io/paymesh/internal/domain/decision"
	domrouting "github.com/paymesh-io/paymesh/internal/domain/routing"
)

// RouteRequest asks for the best provider to serve one call.
type RouteRequest struct {
	Chain       string
	ServiceType string
	Amount      float64
	// MaxCost caps the acceptable per-call cost. Defaults to the
	// client's max cost per transaction.
	MaxCost float64
}

// Route is a provider selection with its provenance.
type Route struct {
	ProviderID string
	// Confidence is higher for oracle-backed routes than for local
	// scoring fallbacks.
	Confidence float64
	// Source is "oracle" or "local".
	Source    string
	DecidedAt time.Time
}

// Decision is one corrective action taken by the policy engine.
type Decision struct {
	ID        string
	Action    string
	Priority  string
	Reason    string
	Executed  bool
	Error     string
	CreatedAt time.Time
}

// Rebalance suggests shifting traffic between chains.
type Rebalance struct {
	FromChain        string
	ToChain          string
	Reason           string
	PotentialSavings float64
}

// RoutingService exposes route selection and the policy engine.
type RoutingService struct {
	svc policyUseCase
	obs *observer
}

// Decide picks a provider for the request, consulting the oracle when
// it is healthy and falling back to local scoring otherwise.
func (s *RoutingService) Decide(ctx context.Context, req RouteRequest) (_ Route, err error) {
	start := time.Now()
	defer func() { s.obs.observe("routing.decide", start, err) }()

	route, err := s.svc.MakeImmediateDecision(ctx, domrouting.Request{
		Chain:       req.Chain,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		MaxCost:     req.MaxCost,
	})
	if err != nil {
		return Route{}, fmt.Errorf("decide route: %w", err)
	}
	return Route{
		ProviderID: route.ProviderID,
		Confidence: route.Confidence,
		Source:     string(route.Source),
		DecidedAt:  route.DecidedAt,
	}, nil
}

// Optimize runs one policy evaluation pass and returns the decisions
// it made. The standalone server runs this on a timer; embedded users
// call it explicitly.
func (s *RoutingService) Optimize(ctx context.Context) []Decision {
	start := time.Now()
	defer func() { s.obs.observe("routing.optimize", start, nil) }()

	return fromInternalDecisions(s.svc.Evaluate(ctx))
}

// Decisions returns up to n recent decisions, newest first.
func (s *RoutingService) Decisions(ctx context.Context, n int) []Decision {
	start := time.Now()
	defer func() { s.obs.observe("routing.decisions", start, nil) }()

	return fromInternalDecisions(s.svc.History(n))
}

// Rebalance refreshes and returns the current chain rebalancing
// suggestions.
func (s *RoutingService) Rebalance(ctx context.Context) []Rebalance {
	start := time.Now()
	defer func() { s.obs.observe("routing.rebalance", start, nil) }()

	s.svc.RunRebalanceTick(ctx)
	rs := s.svc.Rebalancing()
	out := make([]Rebalance, 0, len(rs))
	for _, r := range rs {
		out = append(out, Rebalance{
			FromChain:        r.FromChain,
			ToChain:          r.ToChain,
			Reason:           r.Reason,
			PotentialSavings: r.PotentialSavings,
		})
	}
	return out
}

func fromInternalDecisions(ds []domdecision.Decision) []Decision {
	out := make([]Decision, 0, len(ds))
	for _, d := range ds {
		out = append(out, Decision{
			ID:        d.ID,
			Action:    string(d.Action),
			Priority:  string(d.Priority),
			Reason:    d.Reason,
			Executed:  d.Executed,
			Error:     d.Error,
			CreatedAt: d.CreatedAt,
		})
	}
	return out
}
