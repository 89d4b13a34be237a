// Package ledger is the client for the settlement ledger, the only
// collaborator that actually moves funds. The ledger keeps its own
// budget accounting, so its rejections are mapped onto the same
// domain errors the local guard produces.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/payment"
)

// Config holds the ledger client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Client talks JSON over HTTP to the ledger.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

func NewClient(cfg *Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  cfg.Logger,
	}
}

type payRequest struct {
	Principal   string  `json:"principal"`
	Provider    string  `json:"provider"`
	Amount      float64 `json:"amount"`
	ServiceType string  `json:"service_type"`
}

type payResponse struct {
	TxID    string `json:"tx_id"`
	Success bool   `json:"success"`
}

type ledgerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReserveAndPay settles one payment on the ledger.
func (c *Client) ReserveAndPay(ctx context.Context, principal, providerAddr string, amount float64, serviceType string) (payment.Receipt, error) {
	body, err := json.Marshal(payRequest{
		Principal:   principal,
		Provider:    providerAddr,
		Amount:      amount,
		ServiceType: serviceType,
	})
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("encode payment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("ledger payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return payment.Receipt{}, c.rejection(resp)
	}

	var out payResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return payment.Receipt{}, fmt.Errorf("decode ledger response: %w", err)
	}
	return payment.Receipt{TxID: out.TxID, Success: out.Success}, nil
}

type budgetResponse struct {
	DailyLimit   float64 `json:"daily_limit"`
	MonthlyLimit float64 `json:"monthly_limit"`
	DailySpent   float64 `json:"daily_spent"`
	MonthlySpent float64 `json:"monthly_spent"`
}

// BudgetStatus fetches the ledger's own view of a principal's budget,
// used to reconcile against the local guard.
func (c *Client) BudgetStatus(ctx context.Context, principal string) (payment.LedgerBudget, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/budgets/"+principal, http.NoBody)
	if err != nil {
		return payment.LedgerBudget{}, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return payment.LedgerBudget{}, fmt.Errorf("ledger budget: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return payment.LedgerBudget{}, fmt.Errorf("principal %s: %w", principal, domain.ErrBudgetNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return payment.LedgerBudget{}, fmt.Errorf("ledger budget: unexpected status %d", resp.StatusCode)
	}

	var out budgetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return payment.LedgerBudget{}, fmt.Errorf("decode ledger budget: %w", err)
	}
	return payment.LedgerBudget{
		DailyLimit:   out.DailyLimit,
		MonthlyLimit: out.MonthlyLimit,
		DailySpent:   out.DailySpent,
		MonthlySpent: out.MonthlySpent,
	}, nil
}

// rejection maps a ledger error body onto domain errors.
func (c *Client) rejection(resp *http.Response) error {
	var le ledgerError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &le); err != nil || le.Code == "" {
		return fmt.Errorf("ledger rejected payment with status %d: %w", resp.StatusCode, domain.ErrPaymentRejected)
	}

	c.logger.Warn("ledger rejected payment",
		zap.String("code", le.Code),
		zap.String("message", le.Message))

	switch le.Code {
	case "DAILY_LIMIT_EXCEEDED":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrDailyLimitExceeded)
	case "MONTHLY_LIMIT_EXCEEDED":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrMonthlyLimitExceeded)
	case "EMERGENCY_THRESHOLD_EXCEEDED":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrEmergencyThreshold)
	case "BUDGET_INACTIVE":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrBudgetInactive)
	case "BUDGET_NOT_FOUND":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrBudgetNotFound)
	default:
		return fmt.Errorf("%s (%s): %w", le.Message, le.Code, domain.ErrPaymentRejected)
	}
}
