package paymesh

import (
	"context"
	"fmt"
	"time"

	domprov "github.com/paymesh-io/paymesh/internal/domain/provider"
)

// ProviderInfo describes a paid service provider the agent can route to.
type ProviderInfo struct {
	ID          string
	Name        string
	Endpoint    string
	Chains      []string
	CostPerCall float64
	// Reliability is a success rate in [0, 1]; it adapts as the agent
	// observes call outcomes.
	Reliability  float64
	Active       bool
	LastPing     time.Time
	RegisteredAt time.Time
}

// ProviderService manages the provider registry.
type ProviderService struct {
	svc registryUseCase
	obs *observer
}

// Register adds a provider to the registry.
func (s *ProviderService) Register(ctx context.Context, p ProviderInfo) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("provider.register", start, err) }()

	if err = s.svc.Register(ctx, toInternalProvider(p)); err != nil {
		return fmt.Errorf("register provider: %w", err)
	}
	return nil
}

// Get returns a provider by id.
func (s *ProviderService) Get(ctx context.Context, id string) (_ ProviderInfo, err error) {
	start := time.Now()
	defer func() { s.obs.observe("provider.get", start, err) }()

	p, err := s.svc.Get(id)
	if err != nil {
		return ProviderInfo{}, fmt.Errorf("get provider: %w", err)
	}
	return fromInternalProvider(p), nil
}

// List returns every registered provider, active or not.
func (s *ProviderService) List(ctx context.Context) []ProviderInfo {
	start := time.Now()
	defer func() { s.obs.observe("provider.list", start, nil) }()

	ps := s.svc.List()
	out := make([]ProviderInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, fromInternalProvider(p))
	}
	return out
}

// Deactivate removes a provider from the routing pool without
// discarding its history.
func (s *ProviderService) Deactivate(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("provider.deactivate", start, err) }()

	if err = s.svc.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivate provider: %w", err)
	}
	return nil
}

func toInternalProvider(p ProviderInfo) domprov.Provider {
	return domprov.Provider{
		ID:           p.ID,
		Name:         p.Name,
		Endpoint:     p.Endpoint,
		Chains:       p.Chains,
		CostPerCall:  p.CostPerCall,
		Reliability:  p.Reliability,
		Active:       p.Active,
		LastPing:     p.LastPing,
		RegisteredAt: p.RegisteredAt,
	}
}

func fromInternalProvider(p domprov.Provider) ProviderInfo {
	return ProviderInfo{
		ID:           p.ID,
		Name:         p.Name,
		Endpoint:     p.Endpoint,
		Chains:       p.Chains,
		CostPerCall:  p.CostPerCall,
		Reliability:  p.Reliability,
		Active:       p.Active,
		LastPing:     p.LastPing,
		RegisteredAt: p.RegisteredAt,
	}
}
