package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Ledger:   LedgerConfig{BaseURL: "https://ledger.example"},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingLedger(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.BaseURL = ""
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing ledger.base_url")
	}
}

func TestValidate_DailyExceedsMonthly(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.DailyLimit = 20
	cfg.Agent.MonthlyLimit = 10
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when daily limit exceeds monthly limit")
	}
}

func TestValidate_ReliabilityThresholdRange(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.ReliabilityThreshold = 1.5
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range reliability threshold")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	if cfg.Agent.OptimizeIntervalSec != 30 {
		t.Errorf("optimize interval = %d, want 30", cfg.Agent.OptimizeIntervalSec)
	}
	if cfg.Agent.RebalanceIntervalSec != 300 {
		t.Errorf("rebalance interval = %d, want 300", cfg.Agent.RebalanceIntervalSec)
	}
	if cfg.Agent.HealthCheckIntervalSec != 60 {
		t.Errorf("health interval = %d, want 60", cfg.Agent.HealthCheckIntervalSec)
	}
	if cfg.Agent.PaymentSweepIntervalSec != 60 {
		t.Errorf("sweep interval = %d, want 60", cfg.Agent.PaymentSweepIntervalSec)
	}
	if cfg.Agent.MaxCostPerTransaction != 0.01 {
		t.Errorf("max cost = %v, want 0.01", cfg.Agent.MaxCostPerTransaction)
	}
	if cfg.Agent.ReliabilityThreshold != 0.95 {
		t.Errorf("reliability threshold = %v, want 0.95", cfg.Agent.ReliabilityThreshold)
	}
	if len(cfg.Agent.PreferredChains) != 2 {
		t.Errorf("preferred chains = %v, want two defaults", cfg.Agent.PreferredChains)
	}
	if !cfg.Agent.AutoOptimizationEnabled() {
		t.Error("auto optimization should default to enabled")
	}
}

func TestAutoOptimizationFlag(t *testing.T) {
	off := false
	cfg := validConfig()
	cfg.Agent.AutoOptimization = &off
	if cfg.Agent.AutoOptimizationEnabled() {
		t.Error("explicit false should disable auto optimization")
	}
}
