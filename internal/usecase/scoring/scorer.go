package scoring

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
	"github.com/paymesh-io/paymesh/internal/domain/routing"
	metricsuc "github.com/paymesh-io/paymesh/internal/usecase/metrics"
)

const (
	// maxResponseMillis is the latency at or above which the speed score is 0.
	maxResponseMillis = 10000
	// fastResponseMillis / highQuality gate the online weight nudges.
	fastResponseMillis = 1000
	highQuality        = 90
	// nudge is the raw weight increment before the learning rate is applied.
	nudge = 0.1
	// DefaultLearningRate scales the feedback weight nudges.
	DefaultLearningRate = 0.1
	// neutralScore is assumed for quality and speed when a provider has no
	// observations yet, matching the treatment of brand-new providers.
	neutralScore = 0.5
)

// Weights is the multi-objective weight vector. Always sums to 1.
type Weights struct {
	Cost        float64
	Quality     float64
	Speed       float64
	Reliability float64
}

// DefaultWeights returns the initial weight vector.
func DefaultWeights() Weights {
	return Weights{Cost: 0.4, Quality: 0.3, Speed: 0.2, Reliability: 0.1}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Cost + w.Quality + w.Speed + w.Reliability
}

// normalized rescales the vector so it sums to 1.
func (w Weights) normalized() Weights {
	sum := w.Sum()
	if sum == 0 {
		return DefaultWeights()
	}
	return Weights{
		Cost:        w.Cost / sum,
		Quality:     w.Quality / sum,
		Speed:       w.Speed / sum,
		Reliability: w.Reliability / sum,
	}
}

// MetricsSource provides rolling provider metrics for scoring and receives
// feedback samples.
type MetricsSource interface {
	Snapshot(providerID string) (metricsuc.ProviderSnapshot, bool)
	RecordFeedback(providerID string, quality, responseMillis, cost float64)
}

// Scorer ranks candidate providers with an adaptive weighted score.
// The weight vector is owned here and mutated only by AddFeedback.
type Scorer struct {
	mu           sync.Mutex
	weights      Weights
	learningRate float64
	metrics      MetricsSource
	logger       *zap.Logger
}

// New creates a scorer with default weights.
func New(metrics MetricsSource, learningRate float64, logger *zap.Logger) *Scorer {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	return &Scorer{
		weights:      DefaultWeights(),
		learningRate: learningRate,
		metrics:      metrics,
		logger:       logger,
	}
}

// Weights returns a copy of the current weight vector.
func (s *Scorer) Weights() Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights
}

// Score computes the weighted multi-objective score for one provider.
// All component scores live in [0, 1], so the total does too.
func (s *Scorer) Score(p provider.Provider, req routing.Request) float64 {
	s.mu.Lock()
	w := s.weights
	s.mu.Unlock()

	costScore := 0.0
	if req.MaxCost > 0 {
		costScore = max(0, (req.MaxCost-p.Price())/req.MaxCost)
	}

	qualityScore := neutralScore
	speedScore := neutralScore
	if snap, ok := s.metrics.Snapshot(p.ID); ok && snap.Samples > 0 {
		qualityScore = snap.AvgQuality / 100
		speedScore = max(0, (maxResponseMillis-snap.AvgResponseMillis)/maxResponseMillis)
	}

	return w.Cost*costScore +
		w.Quality*qualityScore +
		w.Speed*speedScore +
		w.Reliability*p.Reliability
}

// SelectOptimal scores all candidates and returns the best one.
// The sort is stable, so ties resolve by the input (registration) order.
// Fails with domain.ErrNoProvidersAvailable on an empty candidate set.
func (s *Scorer) SelectOptimal(candidates []provider.Provider, req routing.Request) (provider.Provider, error) {
	if len(candidates) == 0 {
		return provider.Provider{}, domain.ErrNoProvidersAvailable
	}

	ranked := make([]provider.Provider, len(candidates))
	copy(ranked, candidates)
	scores := make(map[string]float64, len(ranked))
	for _, p := range ranked {
		scores[p.ID] = s.Score(p, req)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})

	return ranked[0], nil
}

// AddFeedback records one observed call outcome and adapts the weights:
// consistently high quality shifts weight toward quality, consistently fast
// responses toward speed. Renormalization keeps the vector summing to 1 and
// every component in [0, 1].
func (s *Scorer) AddFeedback(providerID string, quality, responseMillis, cost float64) {
	s.metrics.RecordFeedback(providerID, quality, responseMillis, cost)

	s.mu.Lock()
	defer s.mu.Unlock()

	adapted := false
	if quality > highQuality {
		s.weights.Quality += nudge * s.learningRate
		adapted = true
	}
	if responseMillis < fastResponseMillis {
		s.weights.Speed += nudge * s.learningRate
		adapted = true
	}
	if adapted {
		s.weights = s.weights.normalized()
		s.logger.Debug("Scorer weights adapted",
			zap.String("provider", providerID),
			zap.Float64("w_cost", s.weights.Cost),
			zap.Float64("w_quality", s.weights.Quality),
			zap.Float64("w_speed", s.weights.Speed),
			zap.Float64("w_reliability", s.weights.Reliability),
		)
	}
}
