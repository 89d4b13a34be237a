package payment

import "time"

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// MaxAttempts is how many times a payment is retried before it fails for good.
const MaxAttempts = 3

// Payment is one paid service request routed through a provider.
type Payment struct {
	ID          string
	Principal   string
	ProviderID  string
	Chain       string
	ServiceType string
	Amount      float64
	// Elevated payments may exceed the emergency threshold.
	Elevated    bool
	Recipient   string
	Metadata    string
	SubmittedAt time.Time
	Status      Status
	Attempts    int
	TxID        string
	LastError   string
}

// Terminal reports whether the payment reached a final state.
func (p Payment) Terminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Receipt is the ledger's acknowledgement of a settled payment.
type Receipt struct {
	TxID    string
	Success bool
}

// LedgerBudget mirrors the ledger's own view of a principal's budget,
// used for defense-in-depth reconciliation.
type LedgerBudget struct {
	DailyLimit   float64
	MonthlyLimit float64
	DailySpent   float64
	MonthlySpent float64
}
