package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keller/swarmd/internal/store"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show swarm audit state",
		Long: `Print the persisted audit surface: archived task history, the alert
log, and the agent health table.

Examples:
  swarmd status
  swarmd status --tasks permanently_failed
  swarmd status --config custom.yaml`,
		RunE: statusCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .swarmd/config.yaml)")
	cmd.Flags().String("tasks", "", "Filter task history by terminal status")

	return cmd
}

// statusCommand implements the status command logic
func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	statusFilter, _ := cmd.Flags().GetString("tasks")

	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	return printStatus(cmd.OutOrStdout(), db, statusFilter)
}

// printStatus renders the three audit tables.
func printStatus(out io.Writer, db *store.Store, statusFilter string) error {
	tasks, err := db.TaskHistory(statusFilter)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Task history (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(out, "  - %s %s [%s] region=%s retries=%d\n",
			t.ID, t.Type, t.Status, t.Params["region"], t.RetryCount)
		if t.Error != "" {
			fmt.Fprintf(out, "      error: %s\n", t.Error)
		}
	}

	alerts, err := db.Alerts()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nAlerts (%d):\n", len(alerts))
	for _, a := range alerts {
		acked := " "
		if a.Acknowledged {
			acked = "x"
		}
		fmt.Fprintf(out, "  [%s] %-8s %s\n", acked, a.Severity, a.Message)
	}

	agents, err := db.AgentHealthTable()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nAgents (%d):\n", len(agents))
	for _, h := range agents {
		fmt.Fprintf(out, "  - %-16s %-8s last heartbeat %s\n",
			h.AgentID, h.Status, h.LastHeartbeat.Local().Format("15:04:05"))
	}

	return nil
}
