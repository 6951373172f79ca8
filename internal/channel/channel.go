// Package channel provides the broadcast/poll transport connecting swarm
// participants.
//
// The Channel contract is deliberately narrow: publish a validated envelope
// to all consumers, and read everything published after a cursor. Delivery
// is at-least-once and ordering is only guaranteed per sender, so consumers
// must tolerate duplicates. Consensus state is keyed by (proposal, voter)
// and recomputed idempotently, which makes it naturally safe under these
// semantics.
package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keller/swarmd/internal/models"
)

// ErrChannelUnavailable indicates a transient transport failure. Callers
// retry with bounded backoff rather than treating it as fatal.
var ErrChannelUnavailable = errors.New("channel unavailable")

// Cursor marks a position in a channel's message history. Zero reads from
// the beginning. Cursors are only meaningful to the channel that issued
// them.
type Cursor int64

// Channel is the abstract transport between swarm participants. The
// concrete medium (shared memory, an on-disk ledger, a queue) is an
// implementation detail; the rest of the system depends only on this
// contract.
type Channel interface {
	// Broadcast publishes an envelope to all current and future
	// consumers. The envelope is schema-validated first; malformed
	// messages fail fast instead of propagating.
	Broadcast(env models.Envelope) error

	// Poll returns all messages published after the cursor, in publish
	// order for any single sender, along with the cursor for the next
	// call. An empty batch is not an error.
	Poll(since Cursor) ([]models.Envelope, Cursor, error)
}

// NewProposalEnvelope wraps a proposal for broadcast.
func NewProposalEnvelope(sender string, p models.Proposal) models.Envelope {
	return models.Envelope{
		ID:       uuid.NewString(),
		Kind:     models.KindProposal,
		Sender:   sender,
		SentAt:   time.Now(),
		Proposal: &p,
	}
}

// NewVoteEnvelope wraps a vote for broadcast.
func NewVoteEnvelope(sender string, v models.Vote) models.Envelope {
	return models.Envelope{
		ID:     uuid.NewString(),
		Kind:   models.KindVote,
		Sender: sender,
		SentAt: time.Now(),
		Vote:   &v,
	}
}

// NewHeartbeatEnvelope wraps an agent heartbeat for broadcast.
func NewHeartbeatEnvelope(agentID string) models.Envelope {
	return models.Envelope{
		ID:     uuid.NewString(),
		Kind:   models.KindHeartbeat,
		Sender: agentID,
		SentAt: time.Now(),
		Heartbeat: &models.Heartbeat{
			AgentID: agentID,
			SentAt:  time.Now(),
		},
	}
}

// NewTaskReportEnvelope wraps a task completion/failure report for broadcast.
func NewTaskReportEnvelope(agentID string, report models.TaskReport) models.Envelope {
	return models.Envelope{
		ID:         uuid.NewString(),
		Kind:       models.KindTaskReport,
		Sender:     agentID,
		SentAt:     time.Now(),
		TaskReport: &report,
	}
}

// validateOutbound checks an envelope before it enters the transport.
func validateOutbound(env models.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("rejecting malformed envelope: %w", err)
	}
	return nil
}
