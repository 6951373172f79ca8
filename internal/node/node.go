// Package node implements a swarm participant: it creates proposals,
// casts votes, collects peer votes from the channel, and evaluates
// consensus with the aggregator.
//
// No node has authority to finalize a proposal. Any node that observes the
// same vote set computes the same result, so consensus is derived rather
// than decided.
package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/keller/swarmd/internal/channel"
	"github.com/keller/swarmd/internal/consensus"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
	"github.com/keller/swarmd/internal/retry"
)

// ErrInvalidConfidence is returned for votes with confidence outside
// [0, 1]. Malformed votes are rejected immediately, never retried.
var ErrInvalidConfidence = errors.New("confidence must be in [0.0, 1.0]")

// ErrUnknownProposal is returned when evaluating a proposal this node has
// never seen on the channel.
var ErrUnknownProposal = errors.New("unknown proposal")

// Config holds swarm node configuration.
type Config struct {
	// NodeID identifies this node to peers. Auto-generated when empty.
	NodeID string

	// Threshold is the minimum consensus score for approval.
	Threshold float64

	// PollInterval is the pause between channel polls while collecting
	// votes.
	PollInterval time.Duration

	// ExpectedVoters ends vote collection early once this many distinct
	// voters have been seen (0 = wait out the full timeout).
	ExpectedVoters int

	// Retry bounds retries of transient channel failures.
	Retry retry.Policy
}

// Node is one swarm participant.
type Node struct {
	id        string
	threshold float64
	pollEvery time.Duration
	expected  int
	policy    retry.Policy

	ch  channel.Channel
	log logger.Logger

	cursor    channel.Cursor
	proposals map[string]models.Proposal
	votes     map[string]map[string]models.Vote // proposal id -> voter -> vote
}

// New creates a swarm node on the given channel. A nil log discards output.
func New(cfg Config, ch channel.Channel, log logger.Logger) *Node {
	if cfg.NodeID == "" {
		cfg.NodeID = fmt.Sprintf("node-%s", uuid.NewString()[:8])
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Node{
		id:        cfg.NodeID,
		threshold: cfg.Threshold,
		pollEvery: cfg.PollInterval,
		expected:  cfg.ExpectedVoters,
		policy:    cfg.Retry,
		ch:        ch,
		log:       log,
		proposals: make(map[string]models.Proposal),
		votes:     make(map[string]map[string]models.Vote),
	}
}

// ID returns the node's identity.
func (n *Node) ID() string {
	return n.id
}

// broadcast publishes an envelope, retrying transient channel failures
// with bounded backoff.
func (n *Node) broadcast(ctx context.Context, env models.Envelope) error {
	err := n.policy.Do(ctx, func() error {
		return n.ch.Broadcast(env)
	}, func(err error) bool {
		return errors.Is(err, channel.ErrChannelUnavailable)
	})
	if errors.Is(err, channel.ErrChannelUnavailable) {
		n.log.LogWarn(fmt.Sprintf("node %s: channel unavailable after retries: %v", n.id, err))
	}
	return err
}

// CreateProposal creates an open proposal and broadcasts it to the swarm.
func (n *Node) CreateProposal(ctx context.Context, title, description string) (models.Proposal, error) {
	proposal := models.Proposal{
		ID:          fmt.Sprintf("prop-%s", uuid.NewString()[:8]),
		Title:       title,
		Description: description,
		Proposer:    n.id,
		Status:      models.ProposalOpen,
		CreatedAt:   time.Now(),
	}
	if err := proposal.Validate(); err != nil {
		return models.Proposal{}, err
	}

	if err := n.broadcast(ctx, channel.NewProposalEnvelope(n.id, proposal)); err != nil {
		return models.Proposal{}, fmt.Errorf("broadcast proposal: %w", err)
	}

	n.proposals[proposal.ID] = proposal
	n.log.LogInfo(fmt.Sprintf("node %s proposed %s: %s", n.id, proposal.ID, title))
	return proposal, nil
}

// CreateVote validates and broadcasts this node's vote on a proposal.
// Confidence outside [0, 1] fails with ErrInvalidConfidence.
func (n *Node) CreateVote(ctx context.Context, proposalID string, approve bool, confidence float64, reasoning string) (models.Vote, error) {
	if confidence < 0.0 || confidence > 1.0 {
		return models.Vote{}, fmt.Errorf("%w: got %v", ErrInvalidConfidence, confidence)
	}

	vote := models.Vote{
		ProposalID: proposalID,
		Voter:      n.id,
		Approve:    approve,
		Confidence: confidence,
		Reasoning:  reasoning,
		CastAt:     time.Now(),
	}
	if err := vote.Validate(); err != nil {
		return models.Vote{}, err
	}

	if err := n.broadcast(ctx, channel.NewVoteEnvelope(n.id, vote)); err != nil {
		return models.Vote{}, fmt.Errorf("broadcast vote: %w", err)
	}

	n.ingestVote(vote)
	n.log.LogDebug(fmt.Sprintf("node %s voted on %s: approve=%v confidence=%.2f", n.id, proposalID, approve, confidence))
	return vote, nil
}

// sync drains the channel and ingests proposals and votes. Heartbeats and
// task reports belong to the coordinator path and are skipped here.
func (n *Node) sync() error {
	batch, cursor, err := n.ch.Poll(n.cursor)
	if err != nil {
		return err
	}
	n.cursor = cursor

	for _, env := range batch {
		switch env.Kind {
		case models.KindProposal:
			if _, known := n.proposals[env.Proposal.ID]; !known {
				n.proposals[env.Proposal.ID] = *env.Proposal
			}
		case models.KindVote:
			n.ingestVote(*env.Vote)
		}
	}
	return nil
}

// ingestVote records a vote with last-write-wins semantics per
// (proposal, voter). Re-delivered duplicates are absorbed naturally.
func (n *Node) ingestVote(vote models.Vote) {
	byVoter, ok := n.votes[vote.ProposalID]
	if !ok {
		byVoter = make(map[string]models.Vote)
		n.votes[vote.ProposalID] = byVoter
	}
	if existing, ok := byVoter[vote.Voter]; ok && existing.CastAt.After(vote.CastAt) {
		return
	}
	byVoter[vote.Voter] = vote
}

// CheckProposals syncs with the channel and returns every open proposal
// broadcast by peers (not this node's own).
func (n *Node) CheckProposals(ctx context.Context) ([]models.Proposal, error) {
	err := n.policy.Do(ctx, n.sync, func(err error) bool {
		return errors.Is(err, channel.ErrChannelUnavailable)
	})
	if err != nil {
		return nil, fmt.Errorf("poll channel: %w", err)
	}

	var open []models.Proposal
	for _, p := range n.proposals {
		if p.Proposer != n.id && p.Status == models.ProposalOpen {
			open = append(open, p)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

// CollectVotes polls the channel until all expected voters have responded
// or the timeout elapses, whichever is first. It returns the deduplicated
// vote set seen so far; a partial set on timeout is a valid outcome, not
// an error.
func (n *Node) CollectVotes(ctx context.Context, proposalID string, timeout time.Duration) ([]models.Vote, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := n.sync(); err != nil && !errors.Is(err, channel.ErrChannelUnavailable) {
			return nil, fmt.Errorf("poll channel: %w", err)
		}

		votes := n.Votes(proposalID)
		if n.expected > 0 && len(votes) >= n.expected {
			return votes, nil
		}
		if time.Now().After(deadline) {
			return votes, nil
		}

		wait := n.pollEvery
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return n.Votes(proposalID), ctx.Err()
		case <-timer.C:
		}
	}
}

// Votes returns the current deduplicated vote set for a proposal, sorted
// by voter for deterministic downstream aggregation.
func (n *Node) Votes(proposalID string) []models.Vote {
	byVoter := n.votes[proposalID]
	if len(byVoter) == 0 {
		return nil
	}

	votes := make([]models.Vote, 0, len(byVoter))
	for _, v := range byVoter {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].Voter < votes[j].Voter })
	return votes
}

// Evaluate feeds the collected votes for a proposal to the aggregator and
// marks the local copy resolved. Any node holding the same votes computes
// the same result.
func (n *Node) Evaluate(proposalID string) (models.ConsensusResult, error) {
	if err := n.sync(); err != nil && !errors.Is(err, channel.ErrChannelUnavailable) {
		return models.ConsensusResult{}, fmt.Errorf("poll channel: %w", err)
	}

	if _, known := n.proposals[proposalID]; !known {
		return models.ConsensusResult{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}

	result, err := consensus.Aggregate(proposalID, n.Votes(proposalID), n.threshold)
	if err != nil {
		return models.ConsensusResult{}, err
	}

	p := n.proposals[proposalID]
	p.Status = models.ProposalResolved
	n.proposals[proposalID] = p

	if result.Indeterminate {
		n.log.LogWarn(fmt.Sprintf("proposal %s indeterminate: all %d votes carried zero confidence", proposalID, result.VoteCount))
	} else {
		n.log.LogInfo(fmt.Sprintf("proposal %s resolved: score=%.3f approved=%v votes=%d", proposalID, result.Score, result.Approved, result.VoteCount))
	}
	return result, nil
}

// ProposeAndVote creates a proposal and immediately commits this node's
// own vote on it, a common pattern for a node that proposes and has an
// opinion.
func (n *Node) ProposeAndVote(ctx context.Context, title, description string, approve bool, confidence float64, reasoning string) (models.Proposal, error) {
	proposal, err := n.CreateProposal(ctx, title, description)
	if err != nil {
		return models.Proposal{}, err
	}
	if _, err := n.CreateVote(ctx, proposal.ID, approve, confidence, reasoning); err != nil {
		return models.Proposal{}, err
	}
	return proposal, nil
}
