package usage

// Metrics aggregates routed-payment usage over a time window.
type Metrics struct {
	TotalRequests      int
	SuccessfulPayments int
	FailedPayments     int
	TotalVolume        float64
	// AverageResponseMillis is the mean provider response time in the window.
	AverageResponseMillis float64
	// CostEfficiency is the fraction of requests in the window that resulted
	// in a successful payment, in [0, 1]. An empty window reports 1.0 — no
	// evidence of inefficiency.
	CostEfficiency float64
}
