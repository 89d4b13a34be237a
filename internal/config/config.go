package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the paymesh agent configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Agent    AgentConfig    `yaml:"agent"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// OracleConfig holds the cost oracle client settings.
type OracleConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// LedgerConfig holds the settlement ledger client settings.
type LedgerConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// AgentConfig holds the decision loop settings.
type AgentConfig struct {
	// Principal is the agent's own budget identity on the ledger.
	Principal string `yaml:"principal"`

	OptimizeIntervalSec     int `yaml:"optimize_interval_sec"`
	RebalanceIntervalSec    int `yaml:"rebalance_interval_sec"`
	HealthCheckIntervalSec  int `yaml:"health_check_interval_sec"`
	PaymentSweepIntervalSec int `yaml:"payment_sweep_interval_sec"`

	MaxCostPerTransaction float64  `yaml:"max_cost_per_transaction"`
	ReliabilityThreshold  float64  `yaml:"reliability_threshold"`
	PreferredChains       []string `yaml:"preferred_chains"`

	DailyLimit         float64 `yaml:"daily_limit"`
	MonthlyLimit       float64 `yaml:"monthly_limit"`
	EmergencyThreshold float64 `yaml:"emergency_threshold"` // 0 = disabled

	// AutoOptimization defaults to true; nil means unset.
	AutoOptimization *bool `yaml:"auto_optimization"`
}

// AutoOptimizationEnabled resolves the optional flag.
func (a AgentConfig) AutoOptimizationEnabled() bool {
	return a.AutoOptimization == nil || *a.AutoOptimization
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Oracle.RequestTimeoutSec <= 0 {
		c.Oracle.RequestTimeoutSec = 5
	}
	if c.Ledger.RequestTimeoutSec <= 0 {
		c.Ledger.RequestTimeoutSec = 10
	}
	if c.Agent.Principal == "" {
		c.Agent.Principal = "paymesh-agent"
	}
	if c.Agent.OptimizeIntervalSec <= 0 {
		c.Agent.OptimizeIntervalSec = 30
	}
	if c.Agent.RebalanceIntervalSec <= 0 {
		c.Agent.RebalanceIntervalSec = 300
	}
	if c.Agent.HealthCheckIntervalSec <= 0 {
		c.Agent.HealthCheckIntervalSec = 60
	}
	if c.Agent.PaymentSweepIntervalSec <= 0 {
		c.Agent.PaymentSweepIntervalSec = 60
	}
	if c.Agent.MaxCostPerTransaction <= 0 {
		c.Agent.MaxCostPerTransaction = 0.01
	}
	if c.Agent.ReliabilityThreshold <= 0 {
		c.Agent.ReliabilityThreshold = 0.95
	}
	if len(c.Agent.PreferredChains) == 0 {
		c.Agent.PreferredChains = []string{"REI", "Polygon"}
	}
	if c.Agent.DailyLimit <= 0 {
		c.Agent.DailyLimit = 1.0
	}
	if c.Agent.MonthlyLimit <= 0 {
		c.Agent.MonthlyLimit = 10.0
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required")
	}
	if c.Agent.ReliabilityThreshold < 0 || c.Agent.ReliabilityThreshold > 1 {
		return fmt.Errorf("agent.reliability_threshold must be in [0, 1], got %v", c.Agent.ReliabilityThreshold)
	}
	if c.Agent.DailyLimit > c.Agent.MonthlyLimit {
		return fmt.Errorf(
			"agent.daily_limit (%v) must not exceed agent.monthly_limit (%v)",
			c.Agent.DailyLimit, c.Agent.MonthlyLimit,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
