// Package oracle is the client for the remote route-optimization
// oracle. The client tracks the oracle's health itself: while the
// oracle is not healthy every call short-circuits locally instead of
// blocking on a known-bad remote.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
	"github.com/paymesh-io/paymesh/internal/domain/routing"
	"github.com/paymesh-io/paymesh/internal/domain/usage"
	"github.com/paymesh-io/paymesh/internal/metrics"
)

// State is the oracle connection state.
type State string

const (
	StateHealthy State = "healthy"
	// StateDegraded means the last probe or call failed; calls
	// short-circuit until a probe succeeds.
	StateDegraded State = "degraded"
	// StateReconnecting is the transient state while a probe after a
	// failure is in flight.
	StateReconnecting State = "reconnecting"
)

// Config holds the oracle client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// HealthInterval is the probe cadence; it also bounds how long a
	// cached suggestion stays usable while the oracle is down.
	HealthInterval time.Duration
	Logger         *zap.Logger
}

// Client talks JSON over HTTP to the oracle. Starts degraded; the
// first successful probe flips it healthy.
type Client struct {
	http           *http.Client
	baseURL        string
	apiKey         string
	healthInterval time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu          sync.Mutex
	state       State
	lastChecked time.Time
	suggestions map[string]routing.Suggestion // by chain
}

func NewClient(cfg *Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	healthInterval := cfg.HealthInterval
	if healthInterval <= 0 {
		healthInterval = time.Minute
	}
	return &Client{
		http:           &http.Client{Timeout: timeout},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		healthInterval: healthInterval,
		logger:         cfg.Logger,
		now:            time.Now,
		state:          StateDegraded,
		suggestions:    make(map[string]routing.Suggestion),
	}
}

// WithClock replaces the time source, for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Healthy reports whether remote calls are currently allowed.
func (c *Client) Healthy() bool {
	return c.State() == StateHealthy
}

// LastChecked returns when the last probe finished.
func (c *Client) LastChecked() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChecked
}

// Probe runs one health check. It is the only path back to healthy
// and is meant to be driven by the periodic health job; it never
// retries within a single call.
func (c *Client) Probe(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateHealthy {
		c.state = StateReconnecting
	}
	c.mu.Unlock()

	err := c.get(ctx, "/health", nil)

	c.mu.Lock()
	c.lastChecked = c.now()
	if err != nil {
		c.state = StateDegraded
		metrics.OracleHealth.Set(0)
	} else {
		c.state = StateHealthy
		metrics.OracleHealth.Set(1)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("oracle probe: %w", err)
	}
	return nil
}

type suggestRequest struct {
	Chain         string  `json:"chain"`
	ServiceType   string  `json:"service_type"`
	EstimatedCost float64 `json:"estimated_cost"`
	MaxCost       float64 `json:"max_cost,omitempty"`
}

type suggestResponse struct {
	ProviderID string `json:"provider_id"`
}

// SuggestRoute asks the oracle for a provider. While degraded it
// serves a cached suggestion for the chain if one is fresh enough,
// otherwise fails with ErrOracleUnavailable so the caller falls back
// to local scoring.
func (c *Client) SuggestRoute(ctx context.Context, req routing.Request) (routing.Suggestion, error) {
	if !c.Healthy() {
		return c.cachedSuggestion(req.Chain)
	}

	var resp suggestResponse
	err := c.post(ctx, "/v1/route/suggest", suggestRequest{
		Chain:         req.Chain,
		ServiceType:   req.ServiceType,
		EstimatedCost: req.Amount,
		MaxCost:       req.MaxCost,
	}, &resp)
	if err != nil {
		c.markDegraded(err)
		metrics.OracleRequestsTotal.WithLabelValues("suggest_route", "error").Inc()
		return c.cachedSuggestion(req.Chain)
	}
	if resp.ProviderID == "" {
		metrics.OracleRequestsTotal.WithLabelValues("suggest_route", "empty").Inc()
		return routing.Suggestion{}, fmt.Errorf("oracle returned no provider for chain %s: %w", req.Chain, domain.ErrNoSuitableProvider)
	}
	metrics.OracleRequestsTotal.WithLabelValues("suggest_route", "success").Inc()

	sugg := routing.Suggestion{ProviderID: resp.ProviderID, RetrievedAt: c.now()}
	c.mu.Lock()
	c.suggestions[req.Chain] = sugg
	c.mu.Unlock()
	return sugg, nil
}

// cachedSuggestion returns the last suggestion for the chain if it is
// younger than one health-check interval.
func (c *Client) cachedSuggestion(chain string) (routing.Suggestion, error) {
	c.mu.Lock()
	sugg, ok := c.suggestions[chain]
	c.mu.Unlock()
	if !ok || c.now().Sub(sugg.RetrievedAt) > c.healthInterval {
		return routing.Suggestion{}, fmt.Errorf("no fresh suggestion for chain %s: %w", chain, domain.ErrOracleUnavailable)
	}
	return sugg, nil
}

type usageResponse struct {
	TotalRequests         int     `json:"total_requests"`
	SuccessfulPayments    int     `json:"successful_payments"`
	FailedPayments        int     `json:"failed_payments"`
	TotalVolume           float64 `json:"total_volume"`
	AverageResponseMillis float64 `json:"average_response_ms"`
	CostEfficiency        float64 `json:"cost_efficiency"`
}

// UsageMetrics fetches the oracle's aggregated view of recent usage.
func (c *Client) UsageMetrics(ctx context.Context, window time.Duration) (usage.Metrics, error) {
	if !c.Healthy() {
		return usage.Metrics{}, domain.ErrOracleUnavailable
	}

	var resp usageResponse
	path := fmt.Sprintf("/v1/usage?window_seconds=%d", int(window.Seconds()))
	if err := c.get(ctx, path, &resp); err != nil {
		c.markDegraded(err)
		metrics.OracleRequestsTotal.WithLabelValues("usage_metrics", "error").Inc()
		return usage.Metrics{}, fmt.Errorf("oracle usage metrics: %w", domain.ErrOracleUnavailable)
	}
	metrics.OracleRequestsTotal.WithLabelValues("usage_metrics", "success").Inc()

	return usage.Metrics{
		TotalRequests:         resp.TotalRequests,
		SuccessfulPayments:    resp.SuccessfulPayments,
		FailedPayments:        resp.FailedPayments,
		TotalVolume:           resp.TotalVolume,
		AverageResponseMillis: resp.AverageResponseMillis,
		CostEfficiency:        resp.CostEfficiency,
	}, nil
}

type providerRow struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Endpoint    string   `json:"endpoint"`
	Chains      []string `json:"chains"`
	CostPerCall float64  `json:"cost_per_call"`
	Reliability float64  `json:"reliability"`
}

// ListProviders fetches the oracle's provider catalog, used by the
// discovery decision.
func (c *Client) ListProviders(ctx context.Context) ([]provider.Provider, error) {
	if !c.Healthy() {
		return nil, domain.ErrOracleUnavailable
	}

	var rows []providerRow
	if err := c.get(ctx, "/v1/providers", &rows); err != nil {
		c.markDegraded(err)
		metrics.OracleRequestsTotal.WithLabelValues("list_providers", "error").Inc()
		return nil, fmt.Errorf("oracle providers: %w", domain.ErrOracleUnavailable)
	}
	metrics.OracleRequestsTotal.WithLabelValues("list_providers", "success").Inc()

	out := make([]provider.Provider, 0, len(rows))
	for _, r := range rows {
		out = append(out, provider.Provider{
			ID:          r.ID,
			Name:        r.Name,
			Endpoint:    r.Endpoint,
			Chains:      r.Chains,
			CostPerCall: r.CostPerCall,
			Reliability: r.Reliability,
		})
	}
	return out, nil
}

// RebalanceSuggestions fetches the oracle's cross-chain rebalancing
// advice.
func (c *Client) RebalanceSuggestions(ctx context.Context) ([]routing.Rebalance, error) {
	if !c.Healthy() {
		return nil, domain.ErrOracleUnavailable
	}

	var rows []routing.Rebalance
	if err := c.get(ctx, "/v1/rebalancing", &rows); err != nil {
		c.markDegraded(err)
		metrics.OracleRequestsTotal.WithLabelValues("rebalance_suggestions", "error").Inc()
		return nil, fmt.Errorf("oracle rebalancing: %w", domain.ErrOracleUnavailable)
	}
	metrics.OracleRequestsTotal.WithLabelValues("rebalance_suggestions", "success").Inc()
	return rows, nil
}

// Close releases idle connections. Called on scheduler stop.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// markDegraded flips the state after a failed remote call; only a
// successful probe flips it back.
func (c *Client) markDegraded(err error) {
	c.mu.Lock()
	was := c.state
	c.state = StateDegraded
	c.mu.Unlock()
	metrics.OracleHealth.Set(0)
	if was == StateHealthy {
		c.logger.Warn("oracle degraded after failed call", zap.Error(err))
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("oracle request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("oracle request %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode oracle response: %w", err)
	}
	return nil
}
