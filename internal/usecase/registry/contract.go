package registry

import (
	"context"

	"github.com/paymesh-io/paymesh/internal/domain/provider"
)

// Repository is the persistence interface for the provider registry.
// Saves are write-behind: the in-memory registry is authoritative.
type Repository interface {
	Save(ctx context.Context, p provider.Provider) error
	LoadAll(ctx context.Context) ([]provider.Provider, error)
}
