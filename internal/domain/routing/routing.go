package routing

import "time"

// Request describes one service request that needs a provider.
type Request struct {
	Chain       string
	ServiceType string
	Amount      float64
	// MaxCost caps the acceptable per-call cost; the cost score is
	// normalized against it.
	MaxCost float64
}

// Source names where a route came from.
type Source string

const (
	SourceOracle Source = "oracle"
	SourceLocal  Source = "local"
)

// Route is the outcome of an immediate routing decision.
type Route struct {
	ProviderID string
	Confidence float64
	Source     Source
	DecidedAt  time.Time
}

// Suggestion is a cached oracle route suggestion.
type Suggestion struct {
	ProviderID  string
	RetrievedAt time.Time
}

// Rebalance suggests shifting traffic between chains.
type Rebalance struct {
	FromChain        string  `json:"from_chain"`
	ToChain          string  `json:"to_chain"`
	Reason           string  `json:"reason"`
	PotentialSavings float64 `json:"potential_savings"`
}
