package payment

import (
	"context"

	dompayment "github.com/paymesh-io/paymesh/internal/domain/payment"
)

// Executor settles a single payment end to end.
type Executor interface {
	Execute(ctx context.Context, p dompayment.Payment, elevated bool) (dompayment.Receipt, error)
}
