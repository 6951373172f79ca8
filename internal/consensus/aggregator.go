// Package consensus implements confidence-weighted vote aggregation.
//
// Aggregation is a pure function over a vote set: identical votes always
// produce the identical result, so any node holding the same votes reaches
// the same decision without a central authority.
package consensus

import (
	"errors"
	"fmt"

	"github.com/keller/swarmd/internal/models"
)

// ErrNoVotes is returned when aggregation is attempted on an empty vote set.
var ErrNoVotes = errors.New("cannot aggregate an empty vote set")

// ErrDuplicateVoter is returned when the input contains more than one vote
// from the same voter. De-duplication (latest vote wins) is the caller's
// responsibility; duplicates reaching the aggregator are a bug upstream.
var ErrDuplicateVoter = errors.New("duplicate voter in vote set")

// Aggregate computes the weighted consensus for a set of votes:
//
//	score = sum(confidence_i for approvals) / sum(confidence_i for all votes)
//
// A proposal is approved when score >= threshold. If every vote carries
// zero confidence the result is indeterminate: no numeric score exists and
// Approved is false, but callers must treat this distinctly from a
// rejection.
func Aggregate(proposalID string, votes []models.Vote, threshold float64) (models.ConsensusResult, error) {
	if len(votes) == 0 {
		return models.ConsensusResult{}, ErrNoVotes
	}

	seen := make(map[string]bool, len(votes))
	var totalConfidence, approvedConfidence float64

	for _, vote := range votes {
		if err := vote.Validate(); err != nil {
			return models.ConsensusResult{}, fmt.Errorf("invalid vote from %s: %w", vote.Voter, err)
		}
		if seen[vote.Voter] {
			return models.ConsensusResult{}, fmt.Errorf("%w: %s", ErrDuplicateVoter, vote.Voter)
		}
		seen[vote.Voter] = true

		totalConfidence += vote.Confidence
		if vote.Approve {
			approvedConfidence += vote.Confidence
		}
	}

	result := models.ConsensusResult{
		ProposalID: proposalID,
		VoteCount:  len(votes),
	}

	if totalConfidence == 0 {
		result.Indeterminate = true
		return result, nil
	}

	result.Score = approvedConfidence / totalConfidence
	result.Approved = result.Score >= threshold
	return result, nil
}
