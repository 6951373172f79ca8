// Package config loads swarmd configuration from YAML. Every timing
// threshold and consensus parameter in the system is a config input;
// nothing else in the codebase hardcodes them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keller/swarmd/internal/retry"
)

// RetryConfig configures backoff for transient channel failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay after the first failure; it doubles per attempt
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff curve
	MaxDelay time.Duration `yaml:"max_delay"`
}

// Policy converts the config into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
	}
}

// Config represents swarmd configuration options
type Config struct {
	// ConsensusThreshold is the weighted approval score required to pass
	// a proposal, in (0, 1]
	ConsensusThreshold float64 `yaml:"consensus_threshold"`

	// VoteTimeout bounds how long a node collects votes for one proposal
	VoteTimeout time.Duration `yaml:"vote_timeout"`

	// ExpectedVoters lets vote collection finish early once this many
	// distinct voters are seen (0 = wait the full timeout)
	ExpectedVoters int `yaml:"expected_voters"`

	// PollInterval is how often channel consumers poll for new messages
	PollInterval time.Duration `yaml:"poll_interval"`

	// StaleThreshold is the heartbeat silence after which an agent is stale
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// OfflineThreshold is the heartbeat silence after which an agent is
	// offline and its tasks are reassigned
	OfflineThreshold time.Duration `yaml:"offline_threshold"`

	// SweepInterval is how often the health tracker sweeps
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// HeartbeatInterval is how often agents broadcast heartbeats
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxRetries is the per-task retry budget
	MaxRetries int `yaml:"max_retries"`

	// Agents is the number of in-process scanner agents started by `run`
	Agents int `yaml:"agents"`

	// LedgerPath is the file channel's append-only message ledger
	LedgerPath string `yaml:"ledger_path"`

	// DBPath is the SQLite audit database
	DBPath string `yaml:"db_path"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where log files will be written
	LogDir string `yaml:"log_dir"`

	// Retry configures backoff for transient channel failures
	Retry RetryConfig `yaml:"retry"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		ConsensusThreshold: 0.66,
		VoteTimeout:        30 * time.Second,
		ExpectedVoters:     0, // Wait out the full timeout
		PollInterval:       500 * time.Millisecond,
		StaleThreshold:     30 * time.Second,
		OfflineThreshold:   60 * time.Second,
		SweepInterval:      10 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		MaxRetries:         3,
		Agents:             2,
		LedgerPath:         ".swarmd/channel.jsonl",
		DBPath:             ".swarmd/swarmd.db",
		LogLevel:           "info",
		LogDir:             ".swarmd/logs",
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Use a temporary struct to handle duration parsing
	type yamlRetry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
	}
	type yamlConfig struct {
		ConsensusThreshold float64   `yaml:"consensus_threshold"`
		VoteTimeout        string    `yaml:"vote_timeout"`
		ExpectedVoters     int       `yaml:"expected_voters"`
		PollInterval       string    `yaml:"poll_interval"`
		StaleThreshold     string    `yaml:"stale_threshold"`
		OfflineThreshold   string    `yaml:"offline_threshold"`
		SweepInterval      string    `yaml:"sweep_interval"`
		HeartbeatInterval  string    `yaml:"heartbeat_interval"`
		MaxRetries         int       `yaml:"max_retries"`
		Agents             int       `yaml:"agents"`
		LedgerPath         string    `yaml:"ledger_path"`
		DBPath             string    `yaml:"db_path"`
		LogLevel           string    `yaml:"log_level"`
		LogDir             string    `yaml:"log_dir"`
		Retry              yamlRetry `yaml:"retry"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.ConsensusThreshold != 0 {
		cfg.ConsensusThreshold = yamlCfg.ConsensusThreshold
	}
	if yamlCfg.ExpectedVoters != 0 {
		cfg.ExpectedVoters = yamlCfg.ExpectedVoters
	}
	if yamlCfg.MaxRetries != 0 {
		cfg.MaxRetries = yamlCfg.MaxRetries
	}
	if yamlCfg.Agents != 0 {
		cfg.Agents = yamlCfg.Agents
	}
	if yamlCfg.LedgerPath != "" {
		cfg.LedgerPath = yamlCfg.LedgerPath
	}
	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.Retry.MaxAttempts != 0 {
		cfg.Retry.MaxAttempts = yamlCfg.Retry.MaxAttempts
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"vote_timeout", yamlCfg.VoteTimeout, &cfg.VoteTimeout},
		{"poll_interval", yamlCfg.PollInterval, &cfg.PollInterval},
		{"stale_threshold", yamlCfg.StaleThreshold, &cfg.StaleThreshold},
		{"offline_threshold", yamlCfg.OfflineThreshold, &cfg.OfflineThreshold},
		{"sweep_interval", yamlCfg.SweepInterval, &cfg.SweepInterval},
		{"heartbeat_interval", yamlCfg.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"retry.base_delay", yamlCfg.Retry.BaseDelay, &cfg.Retry.BaseDelay},
		{"retry.max_delay", yamlCfg.Retry.MaxDelay, &cfg.Retry.MaxDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be in (0, 1], got %v", c.ConsensusThreshold)
	}
	if c.VoteTimeout <= 0 {
		return fmt.Errorf("vote_timeout must be positive, got %v", c.VoteTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("stale_threshold must be positive, got %v", c.StaleThreshold)
	}
	if c.OfflineThreshold <= c.StaleThreshold {
		return fmt.Errorf("offline_threshold (%v) must be greater than stale_threshold (%v)",
			c.OfflineThreshold, c.StaleThreshold)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %v", c.SweepInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Agents < 0 {
		return fmt.Errorf("agents must not be negative, got %d", c.Agents)
	}
	if c.ExpectedVoters < 0 {
		return fmt.Errorf("expected_voters must not be negative, got %d", c.ExpectedVoters)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
