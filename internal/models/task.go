package models

import (
	"fmt"
	"time"
)

// Task status constants
const (
	TaskPending           = "pending"            // Queued, awaiting assignment
	TaskAssigned          = "assigned"           // Handed to exactly one agent
	TaskCompleted         = "completed"          // Terminal: finished successfully
	TaskFailed            = "failed"             // Transient: failure recorded before retry decision
	TaskPermanentlyFailed = "permanently_failed" // Terminal: retries exhausted
)

// Task represents a unit of assignable work tracked through its lifecycle
// by the coordinator. Params are opaque to the coordinator and interpreted
// only by the executing agent.
type Task struct {
	ID          string            `json:"id"`           // Unique task identifier
	Type        string            `json:"type"`         // Task type tag, e.g. "region_scan"
	Params      map[string]string `json:"params"`       // Opaque parameter payload
	Status      string            `json:"status"`       // Lifecycle state, see constants
	AssignedTo  string            `json:"assigned_to"`  // Agent currently executing (empty if unassigned)
	RetryCount  int               `json:"retry_count"`  // Failures charged so far
	MaxRetries  int               `json:"max_retries"`  // Retry budget before permanent failure
	CreatedAt   time.Time         `json:"created_at"`   // Submission timestamp
	StartedAt   *time.Time        `json:"started_at"`   // First assignment timestamp (nil if never assigned)
	CompletedAt *time.Time        `json:"completed_at"` // Terminal timestamp (nil if not terminal)
	Result      map[string]string `json:"result"`       // Completion payload (nil until completed)
	Error       string            `json:"error"`        // Last failure message
}

// Validate checks if the task has all required fields
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("task max_retries must be >= 0, got %d", t.MaxRetries)
	}
	return nil
}

// IsTerminal returns true if the task has reached a state that will never
// be mutated again.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskPermanentlyFailed
}
