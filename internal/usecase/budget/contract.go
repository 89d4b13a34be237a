package budget

import (
	"context"

	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
)

// Store is the persistence interface for budget state.
// Saves are write-behind: the in-memory guard is authoritative.
type Store interface {
	Save(ctx context.Context, b dombudget.Budget) error
	LoadAll(ctx context.Context) ([]dombudget.Budget, error)
}
