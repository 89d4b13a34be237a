package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paymesh-io/paymesh/internal/db"
	"github.com/paymesh-io/paymesh/internal/domain"
	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
)

// store is the consumer interface for budget persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Store implements usecase/budget.Store: one JSON snapshot per principal.
// A whole-budget snapshot (not per-window counters) because the lazy reset
// markers must persist atomically with the spent totals.
type Store struct {
	store store
}

// New creates a budget store.
func New(s store) *Store {
	return &Store{store: s}
}

// row is the JSON-serializable budget snapshot.
type row struct {
	Principal          string  `json:"principal"`
	DailyLimit         float64 `json:"daily_limit"`
	MonthlyLimit       float64 `json:"monthly_limit"`
	EmergencyThreshold float64 `json:"emergency_threshold"`
	DailySpent         float64 `json:"daily_spent"`
	MonthlySpent       float64 `json:"monthly_spent"`
	LastDayResetMs     int64   `json:"last_day_reset_ms"`
	LastMonthResetMs   int64   `json:"last_month_reset_ms"`
	Active             bool    `json:"active"`
}

func key(principal string) string {
	return domain.KeyPrefix + "budget:" + principal
}

// Save persists the budget snapshot for its principal.
func (s *Store) Save(ctx context.Context, b dombudget.Budget) error {
	data, err := json.Marshal(row{
		Principal:          b.Principal,
		DailyLimit:         b.DailyLimit,
		MonthlyLimit:       b.MonthlyLimit,
		EmergencyThreshold: b.EmergencyThreshold,
		DailySpent:         b.DailySpent,
		MonthlySpent:       b.MonthlySpent,
		LastDayResetMs:     b.LastDayReset.UnixMilli(),
		LastMonthResetMs:   b.LastMonthReset.UnixMilli(),
		Active:             b.Active,
	})
	if err != nil {
		return fmt.Errorf("marshal budget %s: %w", b.Principal, err)
	}
	if err := s.store.Set(ctx, key(b.Principal), data); err != nil {
		return fmt.Errorf("save budget %s: %w", b.Principal, err)
	}
	return nil
}

// LoadAll scans and hydrates every stored budget.
func (s *Store) LoadAll(ctx context.Context) ([]dombudget.Budget, error) {
	keys, err := s.store.Scan(ctx, domain.KeyPrefix+"budget:*")
	if err != nil {
		return nil, fmt.Errorf("scan budgets: %w", err)
	}

	out := make([]dombudget.Budget, 0, len(keys))
	for _, k := range keys {
		data, err := s.store.Get(ctx, k)
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("load budget %s: %w", k, err)
		}

		var r row
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode budget %s: %w", k, err)
		}
		out = append(out, dombudget.Budget{
			Principal:          r.Principal,
			DailyLimit:         r.DailyLimit,
			MonthlyLimit:       r.MonthlyLimit,
			EmergencyThreshold: r.EmergencyThreshold,
			DailySpent:         r.DailySpent,
			MonthlySpent:       r.MonthlySpent,
			LastDayReset:       time.UnixMilli(r.LastDayResetMs).UTC(),
			LastMonthReset:     time.UnixMilli(r.LastMonthResetMs).UTC(),
			Active:             r.Active,
		})
	}
	return out, nil
}
