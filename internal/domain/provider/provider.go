package provider

import (
	"slices"
	"time"
)

// reliabilityAlpha is the EWMA smoothing factor for reliability updates.
// Higher values weigh the latest outcome more heavily.
const reliabilityAlpha = 0.2

// Provider is a paid service provider the agent can route requests to.
type Provider struct {
	ID          string
	Name        string
	Endpoint    string
	Chains      []string
	CostPerCall float64
	// Reliability is an exponentially-weighted success rate in [0, 1].
	Reliability  float64
	LastPing     time.Time
	Active       bool
	RegisteredAt time.Time
}

// SupportsChain reports whether the provider serves the given chain.
func (p Provider) SupportsChain(chain string) bool {
	return slices.Contains(p.Chains, chain)
}

// Price returns the cost the provider would charge for a single call.
// Flat per-call pricing today; kept as a method so request-dependent
// pricing stays a provider concern.
func (p Provider) Price() float64 {
	return p.CostPerCall
}

// ObserveOutcome folds a call outcome into the reliability score as an
// exponentially-weighted moving average and refreshes the ping timestamp.
func (p Provider) ObserveOutcome(success bool, at time.Time) Provider {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.Reliability = (1-reliabilityAlpha)*p.Reliability + reliabilityAlpha*outcome
	p.LastPing = at
	return p
}
