package paymesh

import (
	"context"
	"time"

	domusage "github.com/paymesh-io/paymesh/internal/domain/usage"
)

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded"
	Checks map[string]string // component → "ok"/"error"
}

// Health checks the health of all system components.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}

// UsageMetrics aggregates payment activity over a lookback window.
type UsageMetrics struct {
	TotalRequests      int
	SuccessfulPayments int
	FailedPayments     int
	TotalVolume        float64
	// AverageResponseMillis is the mean provider response time.
	AverageResponseMillis float64
	// CostEfficiency is the fraction of requests that resulted in a
	// successful payment, in [0, 1].
	CostEfficiency float64
}

// Usage returns aggregated payment metrics for the lookback window.
func (c *Client) Usage(ctx context.Context, window time.Duration) UsageMetrics {
	start := time.Now()
	defer func() { c.obs.observe("usage", start, nil) }()

	return fromInternalUsage(c.usageSvc.Usage(window))
}

func fromInternalUsage(m domusage.Metrics) UsageMetrics {
	return UsageMetrics{
		TotalRequests:         m.TotalRequests,
		SuccessfulPayments:    m.SuccessfulPayments,
		FailedPayments:        m.FailedPayments,
		TotalVolume:           m.TotalVolume,
		AverageResponseMillis: m.AverageResponseMillis,
		CostEfficiency:        m.CostEfficiency,
	}
}
