package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keller/swarmd/internal/config"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig returns a config with intervals short enough for tests.
func fastConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.StaleThreshold = 500 * time.Millisecond
	cfg.OfflineThreshold = time.Second
	cfg.MaxRetries = 2
	cfg.Agents = 2
	cfg.LedgerPath = filepath.Join(dir, "channel.jsonl")
	cfg.DBPath = filepath.Join(dir, "swarmd.db")
	cfg.LogDir = filepath.Join(dir, "logs")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunSwarm_ScansRegionsToCompletion(t *testing.T) {
	cfg := fastConfig(t)

	region := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(region, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(region, "b.txt"), []byte("world"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := runSwarm(ctx, cfg, []string{region}, "", logger.NewNoOpLogger(), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Completed: 1")
	assert.Contains(t, out.String(), "2 artifact(s)")

	// The terminal task was archived to the audit store.
	db, err := store.NewStore(cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	history, err := db.TaskHistory("")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, region, history[0].Params["region"])

	// Heartbeats and the task report made it into the message audit log.
	messages, err := db.MessageLog("")
	require.NoError(t, err)
	assert.NotEmpty(t, messages)
}

func TestRunSwarm_UnreachableRegionPermanentlyFails(t *testing.T) {
	cfg := fastConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	missing := filepath.Join(t.TempDir(), "missing-region")
	err := runSwarm(ctx, cfg, []string{missing}, "", logger.NewNoOpLogger(), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Permanently failed: 1")
	assert.Contains(t, out.String(), "failed after 2 attempt(s)")
}

func TestRunSwarm_NoRegionsServesUntilCancelled(t *testing.T) {
	cfg := fastConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := runSwarm(ctx, cfg, nil, "", logger.NewNoOpLogger(), &out)
	assert.NoError(t, err)
}

func TestBuildLogger(t *testing.T) {
	cfg := fastConfig(t)

	var out bytes.Buffer
	log, closeLog, err := buildLogger(cfg, &out)
	require.NoError(t, err)
	defer closeLog()

	log.LogInfo("daemon starting")
	assert.Contains(t, out.String(), "daemon starting")

	entries, err := os.ReadDir(cfg.LogDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
