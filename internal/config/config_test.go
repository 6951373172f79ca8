package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.66, cfg.ConsensusThreshold)
	assert.Equal(t, 30*time.Second, cfg.VoteTimeout)
	assert.Equal(t, 30*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 60*time.Second, cfg.OfflineThreshold)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	content := `
consensus_threshold: 0.75
vote_timeout: 45s
stale_threshold: 20s
offline_threshold: 2m
max_retries: 5
log_level: debug
retry:
  max_attempts: 3
  base_delay: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.ConsensusThreshold)
	assert.Equal(t, 45*time.Second, cfg.VoteTimeout)
	assert.Equal(t, 20*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 2*time.Minute, cfg.OfflineThreshold)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)

	// Untouched fields keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, ".swarmd/swarmd.db", cfg.DBPath)
	assert.Equal(t, time.Second, cfg.Retry.MaxDelay)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus_threshold: [not a number"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vote_timeout: soon"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vote_timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold zero", func(c *Config) { c.ConsensusThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.ConsensusThreshold = 1.5 }},
		{"negative vote timeout", func(c *Config) { c.VoteTimeout = -time.Second }},
		{"offline not beyond stale", func(c *Config) { c.OfflineThreshold = c.StaleThreshold }},
		{"zero max retries", func(c *Config) { c.MaxRetries = 0 }},
		{"negative agents", func(c *Config) { c.Agents = -1 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 4, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	p := rc.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 500*time.Millisecond, p.MaxDelay)
}
