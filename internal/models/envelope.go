package models

import (
	"fmt"
	"time"
)

// Envelope kind constants: the closed set of message variants carried by
// the swarm channel.
const (
	KindProposal   = "proposal"
	KindVote       = "vote"
	KindHeartbeat  = "heartbeat"
	KindTaskReport = "task_report"
)

// Heartbeat is a periodic liveness signal from an agent, carried over the
// same channel as consensus traffic.
type Heartbeat struct {
	AgentID string    `json:"agent_id"` // Heartbeating agent
	SentAt  time.Time `json:"sent_at"`  // When the heartbeat was emitted
}

// TaskReport is an agent's completion or failure report for an assigned
// task. On success Report carries the scan payload; on failure Error
// carries the task-level reason.
type TaskReport struct {
	TaskID     string        `json:"task_id"`          // Task being reported
	AgentID    string        `json:"agent_id"`         // Reporting agent
	Success    bool          `json:"success"`          // Completion vs failure
	Error      string        `json:"error,omitempty"`  // Task-level failure reason
	Report     *RegionReport `json:"report,omitempty"` // Scan payload on success
	ReportedAt time.Time     `json:"reported_at"`      // When the report was emitted
}

// Envelope is the tagged union published on the swarm channel. Exactly one
// payload field must be set, and it must match Kind; malformed envelopes
// are rejected at the channel boundary rather than propagated.
type Envelope struct {
	ID     string    `json:"id"`     // Unique message identifier (dedupe key for at-least-once delivery)
	Kind   string    `json:"kind"`   // One of the Kind* constants
	Sender string    `json:"sender"` // Publishing node or agent
	SentAt time.Time `json:"sent_at"`

	Proposal   *Proposal   `json:"proposal,omitempty"`
	Vote       *Vote       `json:"vote,omitempty"`
	Heartbeat  *Heartbeat  `json:"heartbeat,omitempty"`
	TaskReport *TaskReport `json:"task_report,omitempty"`
}

// Validate checks the envelope's schema: required header fields, a known
// kind, and exactly one payload matching that kind.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is required")
	}
	if e.Sender == "" {
		return fmt.Errorf("envelope sender is required")
	}

	set := 0
	if e.Proposal != nil {
		set++
	}
	if e.Vote != nil {
		set++
	}
	if e.Heartbeat != nil {
		set++
	}
	if e.TaskReport != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("envelope must carry exactly one payload, got %d", set)
	}

	switch e.Kind {
	case KindProposal:
		if e.Proposal == nil {
			return fmt.Errorf("envelope kind %q requires a proposal payload", e.Kind)
		}
		return e.Proposal.Validate()
	case KindVote:
		if e.Vote == nil {
			return fmt.Errorf("envelope kind %q requires a vote payload", e.Kind)
		}
		return e.Vote.Validate()
	case KindHeartbeat:
		if e.Heartbeat == nil {
			return fmt.Errorf("envelope kind %q requires a heartbeat payload", e.Kind)
		}
		if e.Heartbeat.AgentID == "" {
			return fmt.Errorf("heartbeat agent_id is required")
		}
		return nil
	case KindTaskReport:
		if e.TaskReport == nil {
			return fmt.Errorf("envelope kind %q requires a task_report payload", e.Kind)
		}
		if e.TaskReport.TaskID == "" {
			return fmt.Errorf("task_report task_id is required")
		}
		if e.TaskReport.AgentID == "" {
			return fmt.Errorf("task_report agent_id is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
}
