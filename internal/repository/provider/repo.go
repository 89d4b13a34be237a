package provider

import (
	"context"
	"fmt"

	"github.com/paymesh-io/paymesh/internal/domain"
	domprov "github.com/paymesh-io/paymesh/internal/domain/provider"
)

// store is the consumer interface for provider persistence (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements usecase/registry.Repository on redis hashes.
type Repo struct {
	store store
}

// New creates a provider repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

func key(id string) string {
	return domain.KeyPrefix + "provider:" + id
}

// Save upserts a provider hash.
func (r *Repo) Save(ctx context.Context, p domprov.Provider) error {
	if err := r.store.HSet(ctx, key(p.ID), providerToHash(p)); err != nil {
		return fmt.Errorf("save provider %s: %w", p.ID, err)
	}
	return nil
}

// LoadAll scans and hydrates every stored provider.
func (r *Repo) LoadAll(ctx context.Context) ([]domprov.Provider, error) {
	keys, err := r.store.Scan(ctx, domain.KeyPrefix+"provider:*")
	if err != nil {
		return nil, fmt.Errorf("scan providers: %w", err)
	}

	out := make([]domprov.Provider, 0, len(keys))
	for _, k := range keys {
		m, err := r.store.HGetAll(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("load provider %s: %w", k, err)
		}
		if len(m) == 0 {
			continue
		}
		p, err := providerFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("decode provider %s: %w", k, err)
		}
		out = append(out, p)
	}
	return out, nil
}
