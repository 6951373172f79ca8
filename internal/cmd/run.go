package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keller/swarmd/internal/channel"
	"github.com/keller/swarmd/internal/config"
	"github.com/keller/swarmd/internal/coordinator"
	"github.com/keller/swarmd/internal/health"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
	"github.com/keller/swarmd/internal/scanner"
	"github.com/keller/swarmd/internal/store"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [region-dir]...",
		Short: "Run the swarm daemon",
		Long: `Run the coordinator, health tracker, and a pool of scanner agents over
a shared message ledger.

Each region directory argument is submitted as a scan task. With regions
given, the daemon exits once every task reaches a terminal state; without
them it keeps serving the ledger (for standalone agents and proposals)
until interrupted.

Configuration is loaded from .swarmd/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  # Scan two regions with the configured agent pool
  swarmd run /data/region-7 /data/region-8

  # Only scan artifacts matching a pattern
  swarmd run --pattern '*.bin' /data/region-7

  # Serve the ledger until interrupted
  swarmd run

  # Other options
  swarmd run --agents 4 /data/region-7
  swarmd run --config custom.yaml /data/region-7`,
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .swarmd/config.yaml)")
	cmd.Flags().String("pattern", "", "Artifact name pattern (default: all artifacts)")
	cmd.Flags().Int("agents", -1, "Number of in-process scanner agents (-1 = use config)")
	cmd.Flags().String("log-dir", "", "Directory for log files")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	if agents, _ := cmd.Flags().GetInt("agents"); agents >= 0 {
		cfg.Agents = agents
	}
	if logDir, _ := cmd.Flags().GetString("log-dir"); logDir != "" {
		cfg.LogDir = logDir
	}
	pattern, _ := cmd.Flags().GetString("pattern")

	log, closeLog, err := buildLogger(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSwarm(ctx, cfg, args, pattern, log, cmd.OutOrStdout())
}

// loadConfigFromFlags loads the YAML config named by --config (or the
// default location) and validates it.
func loadConfigFromFlags(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = ".swarmd/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildLogger wires the console logger together with a per-run log file.
func buildLogger(cfg *config.Config, out io.Writer) (logger.Logger, func(), error) {
	console := logger.NewConsoleLogger(out, cfg.LogLevel)

	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}
	return logger.NewMultiLogger(console, fileLog), func() { fileLog.Close() }, nil
}

// runSwarm assembles the daemon and drives it until done. Factored out of
// the cobra handler so it can be exercised directly.
func runSwarm(ctx context.Context, cfg *config.Config, regions []string, pattern string, log logger.Logger, out io.Writer) error {
	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ch, err := channel.NewFileChannel(cfg.LedgerPath, cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("open channel ledger: %w", err)
	}
	defer ch.Close()

	coord := coordinator.New(coordinator.Config{MaxRetries: cfg.MaxRetries}, db, log)
	tracker := health.New(health.Config{
		StaleThreshold:   cfg.StaleThreshold,
		OfflineThreshold: cfg.OfflineThreshold,
	}, coord, db, log)

	taskIDs := make([]string, 0, len(regions))
	for _, region := range regions {
		params := map[string]string{"region": region}
		if pattern != "" {
			params["pattern"] = pattern
		}
		id, err := coord.Submit("region_scan", params)
		if err != nil {
			return fmt.Errorf("submit scan for %s: %w", region, err)
		}
		taskIDs = append(taskIDs, id)
	}

	// Background workers are stopped and drained before the channel and
	// store close underneath them.
	swarmCtx, stopSwarm := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopSwarm()
		workers.Wait()
	}()

	sweeperDone := make(chan struct{})
	defer close(sweeperDone)
	go tracker.Run(sweeperDone, cfg.SweepInterval)

	workers.Add(1)
	go func() {
		defer workers.Done()
		routeMessages(swarmCtx, ch, coord, tracker, db, log, cfg.PollInterval)
	}()

	for i := 0; i < cfg.Agents; i++ {
		agent := scanner.NewAgent(scanner.AgentConfig{
			AgentID:           fmt.Sprintf("agent-%d", i+1),
			HeartbeatInterval: cfg.HeartbeatInterval,
			IdleWait:          cfg.PollInterval,
			Retry:             cfg.Retry.Policy(),
		}, coord, ch, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			agent.Run(swarmCtx)
		}()
	}

	if len(taskIDs) == 0 {
		log.LogInfo("no regions submitted, serving the ledger until interrupted")
		<-ctx.Done()
		return nil
	}

	if err := waitForTasks(ctx, coord, taskIDs, cfg.PollInterval); err != nil {
		return err
	}
	printSummary(out, coord, taskIDs)
	return nil
}

// routeMessages drains the channel and dispatches messages to their
// consumers: heartbeats feed the health tracker, task reports feed the
// coordinator, and everything is appended to the audit log exactly once.
func routeMessages(ctx context.Context, ch channel.Channel, coord *coordinator.Coordinator, tracker *health.Tracker, db *store.Store, log logger.Logger, pollInterval time.Duration) {
	var cursor channel.Cursor
	seen := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, next, err := ch.Poll(cursor)
		if err != nil {
			log.LogWarn(fmt.Sprintf("channel poll failed: %v", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		cursor = next

		for _, env := range batch {
			// Delivery is at-least-once; drop re-delivered messages here.
			if seen[env.ID] {
				continue
			}
			seen[env.ID] = true

			if err := db.AppendMessage(env); err != nil {
				log.LogError(fmt.Sprintf("audit log append failed for %s: %v", env.ID, err))
			}

			switch env.Kind {
			case models.KindHeartbeat:
				tracker.Heartbeat(env.Heartbeat.AgentID)
			case models.KindTaskReport:
				if err := coord.HandleReport(*env.TaskReport); err != nil {
					log.LogWarn(fmt.Sprintf("dropped task report %s: %v", env.ID, err))
				}
			}
		}
	}
}

// waitForTasks blocks until every listed task is terminal.
func waitForTasks(ctx context.Context, coord *coordinator.Coordinator, taskIDs []string, pollInterval time.Duration) error {
	for {
		remaining := 0
		for _, id := range taskIDs {
			status, _, err := coord.Status(id)
			if err != nil {
				return err
			}
			if status != models.TaskCompleted && status != models.TaskPermanentlyFailed {
				remaining++
			}
		}
		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// printSummary writes the end-of-run task summary.
func printSummary(out io.Writer, coord *coordinator.Coordinator, taskIDs []string) {
	s := coord.Summary()
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "Scan Summary:\n")
	fmt.Fprintf(out, "  Completed: %d\n", s.Completed)
	fmt.Fprintf(out, "  Permanently failed: %d\n", s.PermanentlyFailed)

	for _, id := range taskIDs {
		task, err := coord.Task(id)
		if err != nil {
			continue
		}
		switch task.Status {
		case models.TaskCompleted:
			fmt.Fprintf(out, "  - %s %s: %s artifact(s), %s error(s)\n",
				task.ID, task.Params["region"], task.Result["artifacts"], task.Result["artifact_errors"])
		case models.TaskPermanentlyFailed:
			fmt.Fprintf(out, "  - %s %s: failed after %d attempt(s): %s\n",
				task.ID, task.Params["region"], task.RetryCount, task.Error)
		}
	}
}
