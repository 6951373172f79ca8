package models

import "time"

// Agent health status constants
const (
	AgentHealthy = "healthy" // Heartbeating within the stale threshold
	AgentStale   = "stale"   // Silent past the stale threshold
	AgentOffline = "offline" // Silent past the offline threshold; terminal for the session
)

// Alert severity constants
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AgentHealth represents the tracker's view of a single agent. Records are
// created on first registration and never deleted; offline agents remain
// visible for audit.
type AgentHealth struct {
	AgentID       string    `json:"agent_id"`       // Agent identity
	Status        string    `json:"status"`         // "healthy", "stale", or "offline"
	RegisteredAt  time.Time `json:"registered_at"`  // First registration (or re-registration after offline)
	LastHeartbeat time.Time `json:"last_heartbeat"` // Most recent heartbeat timestamp
	OpenAlerts    []string  `json:"open_alerts"`    // IDs of unacknowledged alerts for this agent
}

// Alert represents a health condition raised by the tracker. Alerts are
// acknowledged by an operator; acknowledgement does not change agent status.
type Alert struct {
	ID           string    `json:"id"`           // Unique alert identifier
	Severity     string    `json:"severity"`     // "warning" or "critical"
	AgentID      string    `json:"agent_id"`     // Subject agent
	Message      string    `json:"message"`      // Human-readable condition
	Acknowledged bool      `json:"acknowledged"` // Set by operator action
	CreatedAt    time.Time `json:"created_at"`   // When the alert was raised
}
