package decision

import "time"

// Priority ranks a decision for execution ordering and reporting.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Action is the closed set of corrective operations the policy can take.
// Execution switches over this set exhaustively.
type Action string

const (
	// ActionOptimizeProviders re-ranks providers toward a target cost efficiency.
	ActionOptimizeProviders Action = "optimize_providers"
	// ActionImproveSpeed raises the reliability floor as a speed proxy.
	ActionImproveSpeed Action = "improve_speed"
	// ActionBudgetManagement cuts the per-transaction cap and slows rebalancing.
	ActionBudgetManagement Action = "budget_management"
	// ActionDiscoverProviders pulls fresh providers from the oracle.
	ActionDiscoverProviders Action = "discover_providers"
)

// Payload carries the action-specific parameters. Only the fields relevant
// to the decision's Action are set.
type Payload struct {
	TargetEfficiency    float64 `json:"target_efficiency,omitempty"`
	MinReliability      float64 `json:"min_reliability,omitempty"`
	CostCutFactor       float64 `json:"cost_cut_factor,omitempty"`
	TargetProviderCount int     `json:"target_provider_count,omitempty"`
}

// Decision is a single corrective action produced by one policy tick.
// Immutable after execution except for Executed and Error.
type Decision struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Priority  Priority  `json:"priority"`
	Reason    string    `json:"reason"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Executed  bool      `json:"executed"`
	Error     string    `json:"error,omitempty"`
}
