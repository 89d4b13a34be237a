package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paymesh-io/paymesh/internal/domain"
	domdecision "github.com/paymesh-io/paymesh/internal/domain/decision"
)

// maxPersisted bounds the persisted decision history.
const maxPersisted = 500

// retention is how long an idle history key survives, refreshed on append.
const retention = 7 * 24 * time.Hour

// store is the consumer interface for decision persistence (ISP).
type store interface {
	LPush(ctx context.Context, key string, value []byte) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store persists the decision history as a bounded redis list,
// newest first.
type Store struct {
	store store
}

// New creates a decision history store.
func New(s store) *Store {
	return &Store{store: s}
}

func key() string {
	return domain.KeyPrefix + "decisions"
}

// Append prepends a decision and re-bounds the list.
func (s *Store) Append(ctx context.Context, d domdecision.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}
	if err := s.store.LPush(ctx, key(), data); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	if err := s.store.LTrim(ctx, key(), 0, maxPersisted-1); err != nil {
		return fmt.Errorf("trim decisions: %w", err)
	}
	if err := s.store.Expire(ctx, key(), retention, false); err != nil {
		return fmt.Errorf("expire decisions: %w", err)
	}
	return nil
}

// Recent returns up to n persisted decisions, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]domdecision.Decision, error) {
	if n <= 0 || n > maxPersisted {
		n = maxPersisted
	}
	rows, err := s.store.LRange(ctx, key(), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}

	out := make([]domdecision.Decision, 0, len(rows))
	for _, data := range rows {
		var d domdecision.Decision
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
