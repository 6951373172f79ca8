// Package models defines the shared data types for swarm coordination:
// proposals and votes for consensus, tasks for the coordinator, agent
// health records and alerts, and scan results reported by workers.
package models

import (
	"fmt"
	"time"
)

// Proposal status constants
const (
	ProposalOpen     = "open"     // Accepting votes
	ProposalResolved = "resolved" // Consensus evaluated
)

// Proposal represents a unit of content submitted for group agreement.
// Fields other than Status are immutable once the proposal is created.
type Proposal struct {
	ID          string    `json:"id"`          // Unique proposal identifier
	Title       string    `json:"title"`       // Short proposal title
	Description string    `json:"description"` // Free-text proposal body
	Proposer    string    `json:"proposer"`    // Node that created the proposal
	Status      string    `json:"status"`      // "open" or "resolved"
	CreatedAt   time.Time `json:"created_at"`  // Creation timestamp
}

// Validate checks if the proposal has all required fields
func (p *Proposal) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("proposal id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("proposal title is required")
	}
	if p.Proposer == "" {
		return fmt.Errorf("proposal proposer is required")
	}
	if p.Status != ProposalOpen && p.Status != ProposalResolved {
		return fmt.Errorf("invalid proposal status %q", p.Status)
	}
	return nil
}

// Vote represents one participant's weighted opinion on a proposal.
// One vote per (proposal, voter) pair; a later vote from the same voter
// replaces the earlier one (last-write-wins by timestamp).
type Vote struct {
	ProposalID string    `json:"proposal_id"` // Proposal being voted on
	Voter      string    `json:"voter"`       // Node casting the vote
	Approve    bool      `json:"approve"`     // Approval or rejection
	Confidence float64   `json:"confidence"`  // Self-reported certainty in [0,1]
	Reasoning  string    `json:"reasoning"`   // Optional free-text rationale
	CastAt     time.Time `json:"cast_at"`     // When the vote was cast
}

// Validate checks vote fields, including the confidence range.
// Out-of-range confidence is a hard rejection, never clamped.
func (v *Vote) Validate() error {
	if v.ProposalID == "" {
		return fmt.Errorf("vote proposal_id is required")
	}
	if v.Voter == "" {
		return fmt.Errorf("vote voter is required")
	}
	if v.Confidence < 0.0 || v.Confidence > 1.0 {
		return fmt.Errorf("vote confidence must be in [0.0, 1.0], got %v", v.Confidence)
	}
	return nil
}

// ConsensusResult represents the outcome of evaluating a proposal's votes.
// It is recomputed on demand from the vote set, never stored as mutable
// state, so any party holding the same votes derives the same result.
type ConsensusResult struct {
	ProposalID    string  `json:"proposal_id"`   // Evaluated proposal
	Score         float64 `json:"score"`         // Weighted approval in [0,1]; meaningless when Indeterminate
	Approved      bool    `json:"approved"`      // Score >= threshold
	Indeterminate bool    `json:"indeterminate"` // All votes carried zero confidence
	VoteCount     int     `json:"vote_count"`    // Number of votes counted
}
