// Package config loads the gateway configuration from YAML, applies
// environment overrides, and watches the hold-policy file for hot
// reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/policy"
)

// Config is the top-level PromptSpeak gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Drift      DriftConfig      `yaml:"drift"`
	Holds      HoldConfig       `yaml:"holds"`
	Delegation DelegationConfig `yaml:"delegation"`
	Proposals  ProposalConfig   `yaml:"proposals"`
	Webhook    WebhookConfig    `yaml:"webhook"`

	// HoldPolicies are CEL rules evaluated on every intercept. When
	// HoldPolicyPath is set the file is loaded over the inline rules and
	// watched for hot reload.
	HoldPolicies   []policy.Rule `yaml:"hold_policies"`
	HoldPolicyPath string        `yaml:"hold_policy_path"`
}

type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type DriftConfig struct {
	WarningThreshold          float64 `yaml:"warning_threshold"`
	CriticalThreshold         float64 `yaml:"critical_threshold"`
	WindowSize                int     `yaml:"window_size"`
	CircuitCooldownMs         int64   `yaml:"circuit_cooldown_ms"`
	ConsecutiveFailureCeiling int     `yaml:"consecutive_failure_ceiling"`
}

type HoldConfig struct {
	TimeoutMs                   int64    `yaml:"timeout_ms"`
	HoldOnDriftPrediction       bool     `yaml:"hold_on_drift_prediction"`
	HoldOnForbiddenWithOverride bool     `yaml:"hold_on_forbidden_with_override"`
	MinAllowConfidence          float64  `yaml:"min_allow_confidence"`
	ApprovalWhitelist           []string `yaml:"approval_whitelist"`
	SweepIntervalMs             int64    `yaml:"sweep_interval_ms"`
}

type DelegationConfig struct {
	StrictDefault      bool `yaml:"strict_default"`
	MaxDelegationDepth int  `yaml:"max_delegation_depth"`
}

type ProposalConfig struct {
	DefaultTTLMs    int64 `yaml:"default_ttl_ms"`
	SweepIntervalMs int64 `yaml:"sweep_interval_ms"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Path: "./promptspeak.db",
		},
		Drift: DriftConfig{
			WarningThreshold:          0.15,
			CriticalThreshold:         0.30,
			WindowSize:                100,
			CircuitCooldownMs:         30_000,
			ConsecutiveFailureCeiling: 3,
		},
		Holds: HoldConfig{
			TimeoutMs:                   24 * 60 * 60 * 1000,
			HoldOnDriftPrediction:       true,
			HoldOnForbiddenWithOverride: true,
			MinAllowConfidence:          0.5,
			SweepIntervalMs:             30_000,
		},
		Delegation: DelegationConfig{
			StrictDefault:      true,
			MaxDelegationDepth: 3,
		},
		Proposals: ProposalConfig{
			DefaultTTLMs:    24 * 60 * 60 * 1000,
			SweepIntervalMs: 60_000,
		},
	}
}

// Load reads the YAML file over the defaults and applies environment
// overrides. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps PROMPTSPEAK_* variables over the loaded values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PROMPTSPEAK_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("PROMPTSPEAK_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PROMPTSPEAK_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("PROMPTSPEAK_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("PROMPTSPEAK_DRIFT_WARNING_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Drift.WarningThreshold = f
		}
	}
	if v := os.Getenv("PROMPTSPEAK_DRIFT_CRITICAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Drift.CriticalThreshold = f
		}
	}
	if v := os.Getenv("PROMPTSPEAK_HOLD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Holds.TimeoutMs = n
		}
	}
}

func (c *Config) validate() error {
	if c.Drift.WarningThreshold <= 0 || c.Drift.CriticalThreshold <= 0 {
		return fmt.Errorf("drift thresholds must be positive")
	}
	if c.Drift.WarningThreshold >= c.Drift.CriticalThreshold {
		return fmt.Errorf("drift warning threshold %.2f must be below critical threshold %.2f",
			c.Drift.WarningThreshold, c.Drift.CriticalThreshold)
	}
	if c.Drift.WindowSize <= 0 {
		return fmt.Errorf("drift window size must be positive")
	}
	if c.Delegation.MaxDelegationDepth <= 0 {
		return fmt.Errorf("max delegation depth must be positive")
	}
	if c.Holds.MinAllowConfidence < 0 || c.Holds.MinAllowConfidence > 1 {
		return fmt.Errorf("min allow confidence must be within [0, 1]")
	}
	return nil
}

// CircuitCooldown returns the breaker cooldown as a duration.
func (c *Config) CircuitCooldown() time.Duration {
	return time.Duration(c.Drift.CircuitCooldownMs) * time.Millisecond
}

// HoldTimeout returns the default hold expiry as a duration.
func (c *Config) HoldTimeout() time.Duration {
	return time.Duration(c.Holds.TimeoutMs) * time.Millisecond
}

// HoldSweepInterval returns the hold expiry sweep period.
func (c *Config) HoldSweepInterval() time.Duration {
	return time.Duration(c.Holds.SweepIntervalMs) * time.Millisecond
}

// ProposalTTL returns the default proposal lifetime as a duration.
func (c *Config) ProposalTTL() time.Duration {
	return time.Duration(c.Proposals.DefaultTTLMs) * time.Millisecond
}

// ProposalSweepInterval returns the proposal expiry sweep period.
func (c *Config) ProposalSweepInterval() time.Duration {
	return time.Duration(c.Proposals.SweepIntervalMs) * time.Millisecond
}
