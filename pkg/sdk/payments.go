package paymesh

import (
	"context"
	"fmt"
	"time"

	dompayment "github.com/paymesh-io/paymesh/internal/domain/payment"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

// Payment lifecycle states.
const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// PaymentRequest describes a payment to execute.
type PaymentRequest struct {
	// ID is optional; one is generated when empty.
	ID string
	// Principal is the budget the payment draws from. Defaults to the
	// client's own principal.
	Principal   string
	ProviderID  string
	Chain       string
	ServiceType string
	Amount      float64
	// Elevated payments may exceed the emergency threshold.
	Elevated  bool
	Recipient string
	Metadata  string
}

// Payment is the observable state of a submitted payment.
type Payment struct {
	ID          string
	Principal   string
	ProviderID  string
	Chain       string
	ServiceType string
	Amount      float64
	Status      PaymentStatus
	Attempts    int
	TxID        string
	LastError   string
	SubmittedAt time.Time
}

// PaymentService submits and tracks payments.
type PaymentService struct {
	svc       paymentUseCase
	principal string
	obs       *observer
}

// Pay submits a payment and executes it immediately. A rejected
// attempt leaves the payment pending for a later Process retry; the
// rejection is returned alongside the payment state.
func (s *PaymentService) Pay(ctx context.Context, req PaymentRequest) (_ Payment, err error) {
	start := time.Now()
	defer func() { s.obs.observe("payment.pay", start, err) }()

	if req.Principal == "" {
		req.Principal = s.principal
	}
	submitted, err := s.svc.Submit(ctx, toInternalPayment(req))
	if err != nil {
		return Payment{}, fmt.Errorf("submit payment: %w", err)
	}

	processed, err := s.svc.Process(ctx, submitted.ID)
	if err != nil {
		return fromInternalPayment(processed), fmt.Errorf("process payment: %w", err)
	}
	return fromInternalPayment(processed), nil
}

// Process retries a pending payment, typically after an earlier
// rejection. Completed, failed and cancelled payments are returned
// unchanged.
func (s *PaymentService) Process(ctx context.Context, id string) (_ Payment, err error) {
	start := time.Now()
	defer func() { s.obs.observe("payment.process", start, err) }()

	p, err := s.svc.Process(ctx, id)
	if err != nil {
		return fromInternalPayment(p), fmt.Errorf("process payment: %w", err)
	}
	return fromInternalPayment(p), nil
}

// Get returns a payment by id.
func (s *PaymentService) Get(ctx context.Context, id string) (_ Payment, err error) {
	start := time.Now()
	defer func() { s.obs.observe("payment.get", start, err) }()

	p, err := s.svc.Get(id)
	if err != nil {
		return Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return fromInternalPayment(p), nil
}

// List returns all payments in submission order.
func (s *PaymentService) List(ctx context.Context) []Payment {
	start := time.Now()
	defer func() { s.obs.observe("payment.list", start, nil) }()

	ps := s.svc.List()
	out := make([]Payment, 0, len(ps))
	for _, p := range ps {
		out = append(out, fromInternalPayment(p))
	}
	return out
}

// Cancel aborts a pending payment. Payments that started processing
// cannot be cancelled.
func (s *PaymentService) Cancel(ctx context.Context, id string) (_ Payment, err error) {
	start := time.Now()
	defer func() { s.obs.observe("payment.cancel", start, err) }()

	p, err := s.svc.Cancel(id)
	if err != nil {
		return Payment{}, fmt.Errorf("cancel payment: %w", err)
	}
	return fromInternalPayment(p), nil
}

func toInternalPayment(req PaymentRequest) dompayment.Payment {
	return dompayment.Payment{
		ID:          req.ID,
		Principal:   req.Principal,
		ProviderID:  req.ProviderID,
		Chain:       req.Chain,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Elevated:    req.Elevated,
		Recipient:   req.Recipient,
		Metadata:    req.Metadata,
	}
}

func fromInternalPayment(p dompayment.Payment) Payment {
	return Payment{
		ID:          p.ID,
		Principal:   p.Principal,
		ProviderID:  p.ProviderID,
		Chain:       p.Chain,
		ServiceType: p.ServiceType,
		Amount:      p.Amount,
		Status:      PaymentStatus(p.Status),
		Attempts:    p.Attempts,
		TxID:        p.TxID,
		LastError:   p.LastError,
		SubmittedAt: p.SubmittedAt,
	}
}
