package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
)

// Service owns the known service providers. Providers are kept in memory
// in registration order (scoring ties resolve by that order) with
// write-behind persistence.
type Service struct {
	mu        sync.Mutex
	providers map[string]provider.Provider
	order     []string
	repo      Repository
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an empty registry. repo may be nil (memory-only mode).
func New(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		providers: make(map[string]provider.Provider),
		repo:      repo,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Load warms the registry from the repository, ordered by registration time.
func (s *Service) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	saved, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	sort.SliceStable(saved, func(i, j int) bool {
		return saved[i].RegisteredAt.Before(saved[j].RegisteredAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range saved {
		if _, ok := s.providers[p.ID]; ok {
			continue
		}
		s.providers[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	s.logger.Info("Providers loaded from store", zap.Int("count", len(saved)))
	return nil
}

// Register adds a new provider. Duplicate ids are rejected.
func (s *Service) Register(ctx context.Context, p provider.Provider) error {
	s.mu.Lock()
	if _, ok := s.providers[p.ID]; ok {
		s.mu.Unlock()
		return domain.ErrProviderExists
	}
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = s.now()
	}
	p.Active = true
	s.providers[p.ID] = p
	s.order = append(s.order, p.ID)
	s.mu.Unlock()

	s.persist(ctx, p)
	s.logger.Info("Provider registered",
		zap.String("id", p.ID),
		zap.Strings("chains", p.Chains),
		zap.Float64("cost_per_call", p.CostPerCall),
	)
	return nil
}

// Get returns one provider by id.
func (s *Service) Get(id string) (provider.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[id]
	if !ok {
		return provider.Provider{}, domain.ErrProviderNotRegistered
	}
	return p, nil
}

// List returns all providers in registration order.
func (s *Service) List() []provider.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]provider.Provider, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.providers[id])
	}
	return out
}

// Candidates returns active providers serving the chain whose reliability
// and per-call price pass the given floors, in registration order.
// maxCost <= 0 disables the price filter.
func (s *Service) Candidates(chain string, minReliability, maxCost float64) []provider.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []provider.Provider
	for _, id := range s.order {
		p := s.providers[id]
		if !p.Active || !p.SupportsChain(chain) {
			continue
		}
		if p.Reliability < minReliability {
			continue
		}
		if maxCost > 0 && p.CostPerCall > maxCost {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ActiveCount returns the number of active providers.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.providers {
		if p.Active {
			n++
		}
	}
	return n
}

// Deactivate disables a provider. Providers are never deleted.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.providers[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrProviderNotRegistered
	}
	p.Active = false
	s.providers[id] = p
	s.mu.Unlock()

	s.persist(ctx, p)
	s.logger.Info("Provider deactivated", zap.String("id", id))
	return nil
}

// ObserveOutcome folds a payment outcome into the provider's reliability EWMA.
func (s *Service) ObserveOutcome(ctx context.Context, id string, success bool) {
	s.mu.Lock()
	p, ok := s.providers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	p = p.ObserveOutcome(success, s.now())
	s.providers[id] = p
	s.mu.Unlock()

	s.persist(ctx, p)
}

// persist is the write-behind save; failures are logged, never surfaced.
func (s *Service) persist(ctx context.Context, p provider.Provider) {
	if s.repo == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.repo.Save(saveCtx, p); err != nil {
		s.logger.Warn("Failed to persist provider", zap.String("id", p.ID), zap.Error(err))
	}
}
