package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/keller/swarmd/internal/channel"
	"github.com/keller/swarmd/internal/config"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
	"github.com/keller/swarmd/internal/scanner"
)

// NewAgentCommand creates the agent command
func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent [region-dir]...",
		Short: "Run a standalone scanner agent",
		Long: `Join the shared message ledger as a standalone scanner agent.

The agent heartbeats on the ledger so a running daemon's health tracker
sees it. Each region directory argument is scanned once and reported as
a task on the ledger; with no regions the agent only heartbeats until
interrupted.

Examples:
  swarmd agent --id scanner-lab /data/region-7
  swarmd agent --pattern '*.bin' /data/region-7 /data/region-8
  swarmd agent`,
		RunE: agentCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .swarmd/config.yaml)")
	cmd.Flags().String("id", "", "Agent identity on the ledger (default: generated)")
	cmd.Flags().String("pattern", "", "Artifact name pattern (default: all artifacts)")

	return cmd
}

// agentCommand implements the agent command logic
func agentCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	agentID, _ := cmd.Flags().GetString("id")
	if agentID == "" {
		agentID = fmt.Sprintf("agent-%s", uuid.NewString()[:8])
	}
	pattern, _ := cmd.Flags().GetString("pattern")

	log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := channel.NewFileChannel(cfg.LedgerPath, cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("open channel ledger: %w", err)
	}
	defer ch.Close()

	return runStandaloneAgent(ctx, cfg, agentID, args, pattern, ch, log)
}

// runStandaloneAgent drives one agent over its own local task list. The
// agent loop is identical to the in-daemon one; only the task source
// differs.
func runStandaloneAgent(ctx context.Context, cfg *config.Config, agentID string, regions []string, pattern string, ch channel.Channel, log logger.Logger) error {
	tasks := make([]models.Task, 0, len(regions))
	for _, region := range regions {
		params := map[string]string{"region": region}
		if pattern != "" {
			params["pattern"] = pattern
		}
		tasks = append(tasks, models.Task{
			ID:         fmt.Sprintf("task-%s", uuid.NewString()[:8]),
			Type:       "region_scan",
			Params:     params,
			Status:     models.TaskPending,
			MaxRetries: cfg.MaxRetries,
			CreatedAt:  time.Now(),
		})
	}
	source := &localTaskSource{tasks: tasks}

	agent := scanner.NewAgent(scanner.AgentConfig{
		AgentID:           agentID,
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleWait:          cfg.PollInterval,
		Retry:             cfg.Retry.Policy(),
	}, source, ch, log)

	agentCtx, stopAgent := context.WithCancel(ctx)
	defer stopAgent()
	done := make(chan error, 1)
	go func() { done <- agent.Run(agentCtx) }()

	// With regions given, exit once this agent's reports for all of them
	// appear on the ledger; otherwise heartbeat until interrupted.
	if len(regions) > 0 {
		if err := awaitOwnReports(ctx, ch, agentID, len(regions), cfg.PollInterval); err != nil {
			return err
		}
		stopAgent()
		<-done
		log.LogInfo(fmt.Sprintf("agent %s reported %d region(s), leaving the swarm", agentID, len(regions)))
		return nil
	}

	err := <-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// localTaskSource serves a fixed task list to a standalone agent.
type localTaskSource struct {
	tasks []models.Task
}

func (s *localTaskSource) AssignNext(agentID string) (models.Task, bool) {
	if len(s.tasks) == 0 {
		return models.Task{}, false
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	task.Status = models.TaskAssigned
	task.AssignedTo = agentID
	return task, true
}

// awaitOwnReports polls the ledger until this agent's task reports reach
// the expected count.
func awaitOwnReports(ctx context.Context, ch channel.Channel, agentID string, want int, pollInterval time.Duration) error {
	var cursor channel.Cursor
	reported := make(map[string]bool)

	for {
		batch, next, err := ch.Poll(cursor)
		if err == nil {
			cursor = next
			for _, env := range batch {
				if env.Kind == models.KindTaskReport && env.Sender == agentID {
					reported[env.TaskReport.TaskID] = true
				}
			}
			if len(reported) >= want {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
