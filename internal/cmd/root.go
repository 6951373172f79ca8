package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for swarmd
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarmd",
		Short: "Swarm coordination and consensus daemon",
		Long: `swarmd runs a swarm of scanner agents over a shared message channel.

A coordinator hands out region-scan tasks with bounded retries, a health
tracker watches agent heartbeats and reassigns work from offline agents,
and swarm nodes decide proposals by weighted-confidence voting. All
participants communicate over an append-only message ledger.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewAgentCommand())
	cmd.AddCommand(NewProposeCommand())
	cmd.AddCommand(NewStatusCommand())

	return cmd
}
