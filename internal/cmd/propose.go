package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keller/swarmd/internal/channel"
	"github.com/keller/swarmd/internal/consensus"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
	"github.com/keller/swarmd/internal/node"
	"github.com/keller/swarmd/internal/parser"
)

// NewProposeCommand creates the propose command
func NewProposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose <proposal.md>",
		Short: "Broadcast a proposal and evaluate consensus",
		Long: `Parse a Markdown proposal file, broadcast it on the shared ledger, and
collect votes until the vote timeout elapses.

The file's first heading becomes the proposal title and the rest its
description. With --vote the proposing node also casts its own vote.
After the collection window closes the weighted-confidence result is
printed: approved, rejected, or indeterminate when every vote carried
zero confidence.

Examples:
  swarmd propose proposals/rollout.md
  swarmd propose --vote --confidence 0.9 --reasoning "tested in staging" proposals/rollout.md
  swarmd propose --vote --reject --confidence 0.8 proposals/rollout.md
  swarmd propose --expected-voters 3 proposals/rollout.md`,
		Args: cobra.ExactArgs(1),
		RunE: proposeCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .swarmd/config.yaml)")
	cmd.Flags().String("node-id", "", "Node identity on the ledger (default: generated)")
	cmd.Flags().Bool("vote", false, "Cast this node's own vote on the proposal")
	cmd.Flags().Bool("reject", false, "Vote to reject instead of approve (implies --vote)")
	cmd.Flags().Float64("confidence", 1.0, "Confidence weight of this node's vote, in [0, 1]")
	cmd.Flags().String("reasoning", "", "Free-text reasoning attached to this node's vote")
	cmd.Flags().Int("expected-voters", -1, "Finish early after this many voters (-1 = use config)")

	return cmd
}

// proposeCommand implements the propose command logic
func proposeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	doc, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}

	nodeID, _ := cmd.Flags().GetString("node-id")
	vote, _ := cmd.Flags().GetBool("vote")
	reject, _ := cmd.Flags().GetBool("reject")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	reasoning, _ := cmd.Flags().GetString("reasoning")
	if expected, _ := cmd.Flags().GetInt("expected-voters"); expected >= 0 {
		cfg.ExpectedVoters = expected
	}

	log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)

	ch, err := channel.NewFileChannel(cfg.LedgerPath, cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("open channel ledger: %w", err)
	}
	defer ch.Close()

	n := node.New(node.Config{
		NodeID:         nodeID,
		Threshold:      cfg.ConsensusThreshold,
		PollInterval:   cfg.PollInterval,
		ExpectedVoters: cfg.ExpectedVoters,
		Retry:          cfg.Retry.Policy(),
	}, ch, log)

	ctx := cmd.Context()

	var proposal models.Proposal
	if vote || reject {
		proposal, err = n.ProposeAndVote(ctx, doc.Title, doc.Description, !reject, confidence, reasoning)
	} else {
		proposal, err = n.CreateProposal(ctx, doc.Title, doc.Description)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Proposal %s broadcast: %s\n", proposal.ID, proposal.Title)
	fmt.Fprintf(cmd.OutOrStdout(), "Collecting votes for up to %s...\n", cfg.VoteTimeout)

	votes, err := n.CollectVotes(ctx, proposal.ID, cfg.VoteTimeout)
	if err != nil {
		return err
	}

	result, err := n.Evaluate(proposal.ID)
	if errors.Is(err, consensus.ErrNoVotes) {
		fmt.Fprintf(cmd.OutOrStdout(), "\nResult: NO VOTES received within the collection window\n")
		return nil
	}
	if err != nil {
		return err
	}

	printConsensus(cmd.OutOrStdout(), votes, result, cfg.ConsensusThreshold)
	return nil
}

// printConsensus writes the vote tally and the final decision.
func printConsensus(out io.Writer, votes []models.Vote, result models.ConsensusResult, threshold float64) {
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "Votes (%d):\n", len(votes))
	for _, v := range votes {
		stance := "approve"
		if !v.Approve {
			stance = "reject"
		}
		line := fmt.Sprintf("  - %s: %s (confidence %.2f)", v.Voter, stance, v.Confidence)
		if v.Reasoning != "" {
			line += fmt.Sprintf(": %s", v.Reasoning)
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintf(out, "\n")
	switch {
	case result.Indeterminate:
		fmt.Fprintf(out, "Result: INDETERMINATE (all votes carried zero confidence)\n")
	case result.Approved:
		fmt.Fprintf(out, "Result: APPROVED (score %.3f >= threshold %.2f)\n", result.Score, threshold)
	default:
		fmt.Fprintf(out, "Result: REJECTED (score %.3f < threshold %.2f)\n", result.Score, threshold)
	}
}
