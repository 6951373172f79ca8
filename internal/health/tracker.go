// Package health tracks agent liveness from heartbeats and raises alerts
// when agents go quiet.
//
// The tracker is the single owner of the agent health table and the alert
// log. Agents move healthy -> stale -> offline as heartbeat silence grows;
// a fresh heartbeat reverts stale to healthy, and a heartbeat from a
// previously offline agent starts a new registration lifecycle. Offline
// transitions notify the coordinator so in-flight work is reassigned.
package health

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
)

// ErrUnknownAlert is returned when acknowledging an alert id that was
// never raised.
var ErrUnknownAlert = errors.New("unknown alert")

// Disconnector is notified when an agent goes offline so its in-flight
// tasks can be reassigned. *coordinator.Coordinator satisfies it.
type Disconnector interface {
	HandleDisconnect(agentID string) int
}

// Persister receives health and alert state for the audit store.
// *store.Store satisfies it.
type Persister interface {
	SaveAlert(alert models.Alert) error
	AcknowledgeAlert(alertID string) (int64, error)
	UpsertAgentHealth(h models.AgentHealth) error
}

// Config holds tracker configuration. The stale and offline thresholds
// are independent wall-clock bounds with no built-in defaults; the caller
// decides what "quiet for too long" means.
type Config struct {
	// StaleThreshold is the heartbeat silence after which an agent is
	// marked stale and a warning alert is raised.
	StaleThreshold time.Duration

	// OfflineThreshold is the longer silence after which an agent is
	// marked offline, a critical alert is raised, and its tasks are
	// reassigned.
	OfflineThreshold time.Duration

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Tracker ingests heartbeats and derives agent health.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	now    func() time.Time
	agents map[string]*models.AgentHealth
	alerts map[string]*models.Alert
	order  []string // alert ids in raise order

	disconnect Disconnector
	persist    Persister
	log        logger.Logger
}

// New creates a Tracker. disconnect and persist may be nil; log may be nil.
func New(cfg Config, disconnect Disconnector, persist Persister, log logger.Logger) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Tracker{
		cfg:        cfg,
		now:        now,
		agents:     make(map[string]*models.AgentHealth),
		alerts:     make(map[string]*models.Alert),
		disconnect: disconnect,
		persist:    persist,
		log:        log,
	}
}

// Register creates a healthy record for the agent. Registering an already
// known agent resets its heartbeat clock.
func (t *Tracker) Register(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registerLocked(agentID)
}

func (t *Tracker) registerLocked(agentID string) {
	now := t.now()
	record := &models.AgentHealth{
		AgentID:       agentID,
		Status:        models.AgentHealthy,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	t.agents[agentID] = record
	t.persistAgentLocked(record)
	t.log.LogInfo(fmt.Sprintf("agent registered: %s", agentID))
}

// Heartbeat records a liveness signal. A stale agent reverts to healthy
// and its open alerts are closed (already-acknowledged alerts stay
// acknowledged and are not re-raised). A heartbeat from an offline agent
// re-registers it, starting a fresh alert lifecycle.
func (t *Tracker) Heartbeat(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.agents[agentID]
	if !ok || record.Status == models.AgentOffline {
		t.registerLocked(agentID)
		return
	}

	record.LastHeartbeat = t.now()
	if record.Status == models.AgentStale {
		record.Status = models.AgentHealthy
		record.OpenAlerts = nil
		t.log.LogInfo(fmt.Sprintf("agent %s recovered: stale -> healthy", agentID))
	}
	t.persistAgentLocked(record)
}

// Sweep examines every registered agent and applies the staleness rules:
// healthy agents quiet past StaleThreshold become stale with a warning
// alert; agents quiet past OfflineThreshold become offline with a
// critical alert and their in-flight tasks are handed back to the
// coordinator. Each transition fires exactly once.
func (t *Tracker) Sweep() {
	t.mu.Lock()

	var wentOffline []string
	now := t.now()

	for _, record := range t.agents {
		if record.Status == models.AgentOffline {
			continue
		}
		silence := now.Sub(record.LastHeartbeat)

		if silence > t.cfg.OfflineThreshold {
			record.Status = models.AgentOffline
			t.raiseLocked(record, models.SeverityCritical,
				fmt.Sprintf("agent %s offline: no heartbeat for %s", record.AgentID, silence.Round(time.Second)))
			t.persistAgentLocked(record)
			wentOffline = append(wentOffline, record.AgentID)
			continue
		}

		if record.Status == models.AgentHealthy && silence > t.cfg.StaleThreshold {
			record.Status = models.AgentStale
			t.raiseLocked(record, models.SeverityWarning,
				fmt.Sprintf("agent %s stale: no heartbeat for %s", record.AgentID, silence.Round(time.Second)))
			t.persistAgentLocked(record)
		}
	}
	t.mu.Unlock()

	// Reassignment happens outside the tracker lock; the coordinator
	// serializes its own state.
	for _, agentID := range wentOffline {
		t.log.LogError(fmt.Sprintf("agent %s went offline, reassigning its tasks", agentID))
		if t.disconnect != nil {
			n := t.disconnect.HandleDisconnect(agentID)
			if n > 0 {
				t.log.LogWarn(fmt.Sprintf("returned %d task(s) from offline agent %s to the queue", n, agentID))
			}
		}
	}
}

// raiseLocked creates an alert for the agent. Caller holds the mutex.
func (t *Tracker) raiseLocked(record *models.AgentHealth, severity, message string) {
	alert := &models.Alert{
		ID:        fmt.Sprintf("alert-%s", uuid.NewString()[:8]),
		Severity:  severity,
		AgentID:   record.AgentID,
		Message:   message,
		CreatedAt: t.now(),
	}
	t.alerts[alert.ID] = alert
	t.order = append(t.order, alert.ID)
	record.OpenAlerts = append(record.OpenAlerts, alert.ID)

	if severity == models.SeverityCritical {
		t.log.LogError(message)
	} else {
		t.log.LogWarn(message)
	}
	if t.persist != nil {
		if err := t.persist.SaveAlert(*alert); err != nil {
			t.log.LogError(fmt.Sprintf("failed to persist alert %s: %v", alert.ID, err))
		}
	}
}

// Acknowledge marks an alert acknowledged. Agent status is unaffected.
func (t *Tracker) Acknowledge(alertID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	alert, ok := t.alerts[alertID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAlert, alertID)
	}
	alert.Acknowledged = true

	if record, ok := t.agents[alert.AgentID]; ok {
		record.OpenAlerts = removeID(record.OpenAlerts, alertID)
	}
	if t.persist != nil {
		if _, err := t.persist.AcknowledgeAlert(alertID); err != nil {
			t.log.LogError(fmt.Sprintf("failed to persist acknowledgement of %s: %v", alertID, err))
		}
	}
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// Agent returns a copy of one agent's health record.
func (t *Tracker) Agent(agentID string) (models.AgentHealth, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.agents[agentID]
	if !ok {
		return models.AgentHealth{}, false
	}
	return *record, true
}

// Agents returns a snapshot of the health table, offline agents included.
func (t *Tracker) Agents() []models.AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := make([]models.AgentHealth, 0, len(t.agents))
	for _, record := range t.agents {
		table = append(table, *record)
	}
	return table
}

// Alerts returns all alerts in raise order.
func (t *Tracker) Alerts() []models.Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	alerts := make([]models.Alert, 0, len(t.order))
	for _, id := range t.order {
		alerts = append(alerts, *t.alerts[id])
	}
	return alerts
}

// persistAgentLocked mirrors an agent record to the audit store. Caller
// holds the mutex.
func (t *Tracker) persistAgentLocked(record *models.AgentHealth) {
	if t.persist == nil {
		return
	}
	if err := t.persist.UpsertAgentHealth(*record); err != nil {
		t.log.LogError(fmt.Sprintf("failed to persist health for %s: %v", record.AgentID, err))
	}
}

// Run sweeps on the given interval until ctx is done. Intended to be
// launched as a goroutine by the daemon.
func (t *Tracker) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
