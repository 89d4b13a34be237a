package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		Logger:         zap.NewNop(),
	})
}

func TestReserveAndPay_Success(t *testing.T) {
	var gotReq payRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{"tx_id": "0xabc", "success": true})
	})
	c := newTestClient(t, mux)

	receipt, err := c.ReserveAndPay(context.Background(), "agent-1", "https://rpc.rei.example", 0.002, "rpc_call")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TxID != "0xabc" || !receipt.Success {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if gotReq.Principal != "agent-1" || gotReq.Provider != "https://rpc.rei.example" || gotReq.Amount != 0.002 {
		t.Errorf("unexpected request body: %+v", gotReq)
	}
}

func TestReserveAndPay_MapsLedgerErrorCodes(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"DAILY_LIMIT_EXCEEDED", domain.ErrDailyLimitExceeded},
		{"MONTHLY_LIMIT_EXCEEDED", domain.ErrMonthlyLimitExceeded},
		{"EMERGENCY_THRESHOLD_EXCEEDED", domain.ErrEmergencyThreshold},
		{"BUDGET_INACTIVE", domain.ErrBudgetInactive},
		{"BUDGET_NOT_FOUND", domain.ErrBudgetNotFound},
		{"SOMETHING_ELSE", domain.ErrPaymentRejected},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/payments", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
				_ = json.NewEncoder(w).Encode(map[string]string{"code": tt.code, "message": "rejected"})
			})
			c := newTestClient(t, mux)

			_, err := c.ReserveAndPay(context.Background(), "agent-1", "addr", 0.002, "rpc_call")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReserveAndPay_UnparsableRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payments", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})
	c := newTestClient(t, mux)

	_, err := c.ReserveAndPay(context.Background(), "agent-1", "addr", 0.002, "rpc_call")
	if !errors.Is(err, domain.ErrPaymentRejected) {
		t.Errorf("error = %v, want ErrPaymentRejected", err)
	}
}

func TestBudgetStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/budgets/agent-1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{
			"daily_limit": 0.01, "monthly_limit": 0.1, "daily_spent": 0.004, "monthly_spent": 0.02,
		})
	})
	c := newTestClient(t, mux)

	b, err := c.BudgetStatus(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.DailyLimit != 0.01 || b.DailySpent != 0.004 {
		t.Errorf("unexpected budget: %+v", b)
	}

	if _, err := c.BudgetStatus(context.Background(), "ghost"); !errors.Is(err, domain.ErrBudgetNotFound) {
		t.Errorf("error = %v, want ErrBudgetNotFound", err)
	}
}
