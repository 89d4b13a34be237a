// Package payment tracks the lifecycle of submitted payments and
// retries transient failures through the execution gateway.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	dompayment "github.com/paymesh-io/paymesh/internal/domain/payment"
	"github.com/paymesh-io/paymesh/internal/metrics"
)

// Service keeps payments in memory; a payment is retried up to
// MaxAttempts times before it is marked failed for good.
type Service struct {
	executor Executor
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	payments map[string]dompayment.Payment
	order    []string
}

func New(executor Executor, logger *zap.Logger) *Service {
	return &Service{
		executor: executor,
		logger:   logger,
		now:      time.Now,
		payments: make(map[string]dompayment.Payment),
	}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit registers a new pending payment. An empty ID gets a generated
// one; a duplicate ID is rejected.
func (s *Service) Submit(_ context.Context, p dompayment.Payment) (dompayment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.payments[p.ID]; ok {
		return dompayment.Payment{}, fmt.Errorf("payment %s: %w", p.ID, domain.ErrPaymentExists)
	}

	p.Status = dompayment.StatusPending
	p.Attempts = 0
	p.SubmittedAt = s.now()
	s.payments[p.ID] = p
	s.order = append(s.order, p.ID)

	s.logger.Info("payment submitted",
		zap.String("payment_id", p.ID),
		zap.String("principal", p.Principal),
		zap.Float64("amount", p.Amount))
	return p, nil
}

// Get returns a payment by ID.
func (s *Service) Get(id string) (dompayment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return dompayment.Payment{}, fmt.Errorf("payment %s: %w", id, domain.ErrPaymentNotFound)
	}
	return p, nil
}

// List returns all payments in submission order.
func (s *Service) List() []dompayment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dompayment.Payment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.payments[id])
	}
	return out
}

// ListPending returns payments still awaiting execution, in
// submission order.
func (s *Service) ListPending() []dompayment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dompayment.Payment
	for _, id := range s.order {
		if p := s.payments[id]; p.Status == dompayment.StatusPending {
			out = append(out, p)
		}
	}
	return out
}

// Cancel cancels a pending payment. A payment that is mid-execution
// or already settled cannot be cancelled.
func (s *Service) Cancel(id string) (dompayment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return dompayment.Payment{}, fmt.Errorf("payment %s: %w", id, domain.ErrPaymentNotFound)
	}
	if p.Status != dompayment.StatusPending {
		return dompayment.Payment{}, fmt.Errorf("payment %s in state %s: %w", id, p.Status, domain.ErrPaymentNotCancellable)
	}

	p.Status = dompayment.StatusCancelled
	s.payments[id] = p
	metrics.PaymentsTotal.WithLabelValues(string(dompayment.StatusCancelled)).Inc()
	s.logger.Info("payment cancelled", zap.String("payment_id", id))
	return p, nil
}

// Process executes one pending payment. Terminal and in-flight
// payments are returned unchanged, so retry sweeps are idempotent.
func (s *Service) Process(ctx context.Context, id string) (dompayment.Payment, error) {
	s.mu.Lock()
	p, ok := s.payments[id]
	if !ok {
		s.mu.Unlock()
		return dompayment.Payment{}, fmt.Errorf("payment %s: %w", id, domain.ErrPaymentNotFound)
	}
	if p.Status != dompayment.StatusPending {
		s.mu.Unlock()
		return p, nil
	}
	p.Status = dompayment.StatusProcessing
	s.payments[id] = p
	s.mu.Unlock()

	// Cancel is blocked while the payment is in flight; execution
	// happens outside the service lock.
	receipt, err := s.executor.Execute(ctx, p, p.Elevated)

	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.payments[id]
	p.Attempts++

	if err != nil {
		p.LastError = err.Error()
		if p.Attempts >= dompayment.MaxAttempts {
			p.Status = dompayment.StatusFailed
			metrics.PaymentsTotal.WithLabelValues(string(dompayment.StatusFailed)).Inc()
			s.logger.Error("payment failed permanently",
				zap.String("payment_id", id),
				zap.Int("attempts", p.Attempts),
				zap.Error(err))
		} else {
			p.Status = dompayment.StatusPending
			s.logger.Warn("payment attempt failed, will retry",
				zap.String("payment_id", id),
				zap.Int("attempts", p.Attempts),
				zap.Error(err))
		}
		s.payments[id] = p
		return p, err
	}

	p.Status = dompayment.StatusCompleted
	p.TxID = receipt.TxID
	p.LastError = ""
	s.payments[id] = p
	metrics.PaymentsTotal.WithLabelValues(string(dompayment.StatusCompleted)).Inc()
	metrics.PaymentAmount.WithLabelValues(p.Chain).Observe(p.Amount)
	return p, nil
}

// Sweep retries every pending payment once. It is the periodic
// counterpart of Process for payments whose earlier attempts failed.
func (s *Service) Sweep(ctx context.Context) (processed, completed int) {
	for _, p := range s.ListPending() {
		if ctx.Err() != nil {
			return processed, completed
		}
		processed++
		if done, err := s.Process(ctx, p.ID); err == nil && done.Status == dompayment.StatusCompleted {
			completed++
		}
	}
	if processed > 0 {
		s.logger.Info("payment sweep finished",
			zap.Int("processed", processed),
			zap.Int("completed", completed))
	}
	return processed, completed
}
