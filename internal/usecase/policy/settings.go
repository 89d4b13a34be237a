package policy

import (
	"fmt"
	"slices"
	"time"
)

// Settings are the engine's runtime-tunable knobs. The engine itself
// mutates them when it executes budget or speed decisions.
type Settings struct {
	// MaxCostPerTransaction caps the acceptable per-call provider price.
	MaxCostPerTransaction float64
	// ReliabilityThreshold is the minimum reliability a provider needs
	// to be considered for routing.
	ReliabilityThreshold float64
	// PreferredChains are checked for rebalancing, in order.
	PreferredChains []string
	// RebalanceFrequency throttles how often the rebalance pass runs.
	RebalanceFrequency time.Duration
	// AutoOptimization gates the periodic decision pass entirely.
	AutoOptimization bool
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxCostPerTransaction: 0.01,
		ReliabilityThreshold:  0.95,
		PreferredChains:       []string{"REI", "Polygon"},
		RebalanceFrequency:    time.Hour,
		AutoOptimization:      true,
	}
}

func (s Settings) validate() error {
	if s.MaxCostPerTransaction <= 0 {
		return fmt.Errorf("max cost per transaction must be positive, got %v", s.MaxCostPerTransaction)
	}
	if s.ReliabilityThreshold < 0 || s.ReliabilityThreshold > 1 {
		return fmt.Errorf("reliability threshold must be in [0, 1], got %v", s.ReliabilityThreshold)
	}
	if s.RebalanceFrequency <= 0 {
		return fmt.Errorf("rebalance frequency must be positive, got %v", s.RebalanceFrequency)
	}
	return nil
}

func (s Settings) clone() Settings {
	s.PreferredChains = slices.Clone(s.PreferredChains)
	return s
}
