package paymesh

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	addrs    []string
	password string

	oracleURL string
	oracleKey string
	ledgerURL string
	ledgerKey string

	principal string

	dailyLimit         float64
	monthlyLimit       float64
	emergencyThreshold float64

	maxCostPerTransaction float64
	reliabilityThreshold  float64
	preferredChains       []string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithOracle sets the optimization oracle endpoint. Without it the
// client routes with the local scorer only.
func WithOracle(baseURL, apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.oracleURL = baseURL
		c.oracleKey = apiKey
	})
}

// WithLedger sets the settlement ledger endpoint. Required for
// executing payments; read-only use works without it.
func WithLedger(baseURL, apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.ledgerURL = baseURL
		c.ledgerKey = apiKey
	})
}

// WithPrincipal sets the agent's budget identity on the ledger.
// Default: "paymesh-agent".
func WithPrincipal(principal string) Option {
	return optionFunc(func(c *clientConfig) {
		c.principal = principal
	})
}

// WithLimits sets the agent's own spending limits. Emergency is the
// per-transaction threshold; 0 disables it.
// Defaults: daily 1.0, monthly 10.0, emergency disabled.
func WithLimits(daily, monthly, emergency float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.dailyLimit = daily
		c.monthlyLimit = monthly
		c.emergencyThreshold = emergency
	})
}

// WithMaxCostPerTransaction caps the acceptable per-call provider cost.
// Default: 0.01.
func WithMaxCostPerTransaction(maxCost float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxCostPerTransaction = maxCost
	})
}

// WithReliabilityThreshold sets the minimum provider reliability for
// routing candidates. Default: 0.95.
func WithReliabilityThreshold(threshold float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.reliabilityThreshold = threshold
	})
}

// WithPreferredChains sets the chains rebalancing steers toward.
// Default: REI, Polygon.
func WithPreferredChains(chains ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.preferredChains = chains
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
