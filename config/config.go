// Package config loads the bot configuration from a YAML file with
// environment-variable overrides, and validates it before any remote call.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/solreap/solreap/gateway"
	"github.com/solreap/solreap/types"
)

// Config is the full bot configuration.
type Config struct {
	RPCEndpoint string `yaml:"rpc_endpoint" env:"SOLREAP_RPC_ENDPOINT"`
	Sponsor     string `yaml:"sponsor" env:"SOLREAP_SPONSOR"`
	Signer      string `yaml:"signer" env:"SOLREAP_SIGNER"`
	Destination string `yaml:"destination" env:"SOLREAP_DESTINATION"`
	StorePath   string `yaml:"store_path" env:"SOLREAP_STORE_PATH"`
	AuditPath   string `yaml:"audit_path" env:"SOLREAP_AUDIT_PATH"`

	CallsPerSecond float64             `yaml:"calls_per_second" env:"SOLREAP_CALLS_PER_SECOND"`
	Retry          gateway.RetryPolicy `yaml:"retry"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Reclaim   ReclaimConfig   `yaml:"reclaim"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

// DiscoveryConfig bounds the scan and reconciliation passes.
type DiscoveryConfig struct {
	PageSize  int `yaml:"page_size" env:"SOLREAP_PAGE_SIZE"`
	BatchSize int `yaml:"batch_size" env:"SOLREAP_BATCH_SIZE"`
}

// ReclaimConfig gates the reclaim engine.
type ReclaimConfig struct {
	MinAge             time.Duration `yaml:"min_age" env:"SOLREAP_MIN_AGE"`
	MinLamports        uint64        `yaml:"min_lamports" env:"SOLREAP_MIN_LAMPORTS"`
	BatchSize          int           `yaml:"batch_size" env:"SOLREAP_RECLAIM_BATCH_SIZE"`
	DryRun             bool          `yaml:"dry_run" env:"SOLREAP_DRY_RUN"`
	InterReclaimDelay  time.Duration `yaml:"inter_reclaim_delay" env:"SOLREAP_INTER_RECLAIM_DELAY"`
	AllowedControllers []string      `yaml:"allowed_controllers" env:"SOLREAP_ALLOWED_CONTROLLERS" envSeparator:","`
	BlockedControllers []string      `yaml:"blocked_controllers" env:"SOLREAP_BLOCKED_CONTROLLERS" envSeparator:","`
}

// DaemonConfig schedules recurring monitor/reclaim cycles.
type DaemonConfig struct {
	MonitorInterval time.Duration `yaml:"monitor_interval" env:"SOLREAP_MONITOR_INTERVAL"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval" env:"SOLREAP_RECLAIM_INTERVAL"`
	MetricsPort     int           `yaml:"metrics_port" env:"SOLREAP_METRICS_PORT"`
}

// Default returns the baseline configuration before file and env overlays.
func Default() Config {
	return Config{
		RPCEndpoint:    "https://api.mainnet-beta.solana.com",
		StorePath:      "./solreap.db",
		AuditPath:      "./solreap-audit.jsonl",
		CallsPerSecond: 10,
		Retry:          gateway.DefaultRetryPolicy(),
		Discovery: DiscoveryConfig{
			PageSize:  100,
			BatchSize: 100,
		},
		Reclaim: ReclaimConfig{
			MinAge:            7 * 24 * time.Hour,
			MinLamports:       890880,
			BatchSize:         50,
			InterReclaimDelay: 2 * time.Second,
		},
		Daemon: DaemonConfig{
			MonitorInterval: 15 * time.Minute,
			ReclaimInterval: 6 * time.Hour,
			MetricsPort:     2112,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if given),
// then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.Destination == "" {
		cfg.Destination = cfg.Sponsor
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate fails fast on malformed identities and out-of-range settings.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint is required")
	}
	if c.Sponsor == "" {
		return fmt.Errorf("sponsor identity is required")
	}
	if err := types.ValidateHandle(c.Sponsor); err != nil {
		return fmt.Errorf("sponsor: %w", err)
	}
	if c.Signer == "" {
		return fmt.Errorf("signer identity is required")
	}
	if err := types.ValidateHandle(c.Signer); err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if err := types.ValidateHandle(c.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if c.CallsPerSecond <= 0 {
		return fmt.Errorf("calls_per_second must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Discovery.PageSize < 1 || c.Discovery.PageSize > 1000 {
		return fmt.Errorf("discovery page_size must be in 1..1000")
	}
	if c.Discovery.BatchSize < 1 || c.Discovery.BatchSize > 100 {
		return fmt.Errorf("discovery batch_size must be in 1..100")
	}
	if c.Reclaim.MinAge < 0 {
		return fmt.Errorf("reclaim min_age cannot be negative")
	}
	if c.Reclaim.BatchSize < 1 {
		return fmt.Errorf("reclaim batch_size must be at least 1")
	}
	return nil
}
