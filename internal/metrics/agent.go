package metrics

import "github.com/prometheus/client_golang/prometheus"

// Agent Prometheus metrics.
var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "decisions_total",
			Help:      "Total number of autonomous decisions",
		},
		[]string{"action", "priority", "status"},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "payments_total",
			Help:      "Total number of processed payments",
		},
		[]string{"status"},
	)

	PaymentAmount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paymesh",
			Name:      "payment_amount_usd",
			Help:      "Payment amounts in USD",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"chain"},
	)

	BudgetRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "paymesh",
			Name:      "budget_remaining_usd",
			Help:      "Remaining budget in USD",
		},
		[]string{"principal", "window"}, // window: "daily" / "monthly"
	)

	OracleHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paymesh",
			Name:      "oracle_healthy",
			Help:      "Whether the cost oracle is healthy (1) or degraded (0)",
		},
	)

	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paymesh",
			Name:      "oracle_requests_total",
			Help:      "Total number of cost oracle requests",
		},
		[]string{"operation", "status"},
	)
)

var agentMetricsRegistered bool

// RegisterAgentMetrics registers Prometheus agent metrics. Must be called once from main.
func RegisterAgentMetrics() {
	if agentMetricsRegistered {
		return
	}
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(PaymentsTotal)
	prometheus.MustRegister(PaymentAmount)
	prometheus.MustRegister(BudgetRemaining)
	prometheus.MustRegister(OracleHealth)
	prometheus.MustRegister(OracleRequestsTotal)
	agentMetricsRegistered = true
}
