package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain/routing"
	"github.com/paymesh-io/paymesh/internal/domain/usage"
)

const (
	// windowSize caps the per-provider rolling sample windows.
	windowSize = 50
	// historySize caps the usage record history.
	historySize = 1000
)

// ProviderSnapshot is the derived view of one provider's rolling metrics.
type ProviderSnapshot struct {
	TotalCalls        int
	Samples           int
	AvgQuality        float64 // 0..100 scale
	AvgResponseMillis float64
	AvgCost           float64
}

// providerMetrics holds a provider's rolling windows. Created lazily on the
// first observation, bounded by windowSize, never destroyed.
type providerMetrics struct {
	totalCalls     int
	quality        []float64
	responseMillis []float64
	cost           []float64
}

type usageRecord struct {
	at             time.Time
	chain          string
	providerID     string
	cost           float64
	success        bool
	responseMillis float64
}

// chainCost keeps running per-chain aggregates for rebalancing analysis.
type chainCost struct {
	averageCost float64
	volume      int
	successRate float64
	lastUpdated time.Time
}

// Store is the in-memory rolling metrics store feeding the scorer and policy.
type Store struct {
	mu        sync.Mutex
	providers map[string]*providerMetrics
	history   []usageRecord
	chains    map[string]*chainCost
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates an empty metrics store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		providers: make(map[string]*providerMetrics),
		chains:    make(map[string]*chainCost),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// RecordFeedback appends one quality/latency/cost sample to a provider's
// rolling windows, dropping the oldest sample past the window cap.
func (s *Store) RecordFeedback(providerID string, quality, responseMillis, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm := s.providers[providerID]
	if pm == nil {
		pm = &providerMetrics{}
		s.providers[providerID] = pm
	}

	pm.totalCalls++
	pm.quality = appendBounded(pm.quality, quality)
	pm.responseMillis = appendBounded(pm.responseMillis, responseMillis)
	pm.cost = appendBounded(pm.cost, cost)
}

// Snapshot returns the derived averages for a provider.
// ok is false when the provider has no observations yet.
func (s *Store) Snapshot(providerID string) (ProviderSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm := s.providers[providerID]
	if pm == nil {
		return ProviderSnapshot{}, false
	}
	return ProviderSnapshot{
		TotalCalls:        pm.totalCalls,
		Samples:           len(pm.quality),
		AvgQuality:        mean(pm.quality),
		AvgResponseMillis: mean(pm.responseMillis),
		AvgCost:           mean(pm.cost),
	}, true
}

// RecordUsage folds one routed-payment outcome into the usage history and
// the per-chain running aggregates.
func (s *Store) RecordUsage(chain, providerID string, cost float64, success bool, responseMillis float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, usageRecord{
		at:             s.now(),
		chain:          chain,
		providerID:     providerID,
		cost:           cost,
		success:        success,
		responseMillis: responseMillis,
	})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}

	cc := s.chains[chain]
	if cc == nil {
		cc = &chainCost{}
		s.chains[chain] = cc
	}
	cc.volume++
	cc.averageCost += (cost - cc.averageCost) / float64(cc.volume)
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	cc.successRate += (outcome - cc.successRate) / float64(cc.volume)
	cc.lastUpdated = s.now()
}

// Usage aggregates the records inside the trailing window.
func (s *Store) Usage(window time.Duration) usage.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	var m usage.Metrics
	var responseSum float64

	for _, r := range s.history {
		if r.at.Before(cutoff) {
			continue
		}
		m.TotalRequests++
		m.TotalVolume += r.cost
		responseSum += r.responseMillis
		if r.success {
			m.SuccessfulPayments++
		} else {
			m.FailedPayments++
		}
	}

	if m.TotalRequests == 0 {
		m.CostEfficiency = 1.0
		return m
	}
	m.AverageResponseMillis = responseSum / float64(m.TotalRequests)
	m.CostEfficiency = float64(m.SuccessfulPayments) / float64(m.TotalRequests)
	return m
}

// RebalanceSuggestions flags preferred chains whose success rate dropped
// below the reliability threshold and proposes the best-performing
// alternative chain.
func (s *Store) RebalanceSuggestions(preferred []string, reliabilityThreshold float64) []routing.Rebalance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []routing.Rebalance
	for _, chain := range preferred {
		cc := s.chains[chain]
		if cc == nil || cc.successRate >= reliabilityThreshold {
			continue
		}
		out = append(out, routing.Rebalance{
			FromChain:        chain,
			ToChain:          s.bestAlternative(chain),
			Reason:           "low success rate",
			PotentialSavings: s.potentialSavings(chain),
		})
	}
	return out
}

// bestAlternative picks the other chain with the highest success rate.
// Callers hold s.mu.
func (s *Store) bestAlternative(exclude string) string {
	best := ""
	bestRate := -1.0
	for chain, cc := range s.chains {
		if chain == exclude {
			continue
		}
		if cc.successRate > bestRate {
			best = chain
			bestRate = cc.successRate
		}
	}
	return best
}

// potentialSavings estimates what routing away from a failing chain could
// recover: its failure-weighted average cost scaled by the best alternative
// efficiency. Callers hold s.mu.
func (s *Store) potentialSavings(chain string) float64 {
	cc := s.chains[chain]
	if cc == nil {
		return 0
	}
	inefficiency := (1 - cc.successRate) * cc.averageCost

	bestEfficiency := 0.0
	for other, data := range s.chains {
		if other == chain || data.averageCost == 0 {
			continue
		}
		if e := data.successRate / data.averageCost; e > bestEfficiency {
			bestEfficiency = e
		}
	}
	return inefficiency * bestEfficiency
}

func appendBounded(window []float64, v float64) []float64 {
	window = append(window, v)
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}
	return window
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
