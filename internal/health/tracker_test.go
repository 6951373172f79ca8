package health

import (
	"sync"
	"testing"
	"time"

	"github.com/keller/swarmd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type recordingDisconnector struct {
	mu     sync.Mutex
	agents []string
}

func (r *recordingDisconnector) HandleDisconnect(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, agentID)
	return 1
}

func newTestTracker(clock *fakeClock, disconnect Disconnector) *Tracker {
	return New(Config{
		StaleThreshold:   30 * time.Second,
		OfflineThreshold: 60 * time.Second,
		Now:              clock.Now,
	}, disconnect, nil, nil)
}

func TestRegisterAndHeartbeat(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, nil)

	tr.Register("agent-1")

	record, ok := tr.Agent("agent-1")
	require.True(t, ok)
	assert.Equal(t, models.AgentHealthy, record.Status)
	assert.Equal(t, clock.Now(), record.LastHeartbeat)

	clock.Advance(10 * time.Second)
	tr.Heartbeat("agent-1")

	record, _ = tr.Agent("agent-1")
	assert.Equal(t, clock.Now(), record.LastHeartbeat)
	assert.Equal(t, models.AgentHealthy, record.Status)
}

func TestHeartbeatFromUnknownAgentRegisters(t *testing.T) {
	tr := newTestTracker(newFakeClock(), nil)

	tr.Heartbeat("agent-surprise")

	record, ok := tr.Agent("agent-surprise")
	require.True(t, ok)
	assert.Equal(t, models.AgentHealthy, record.Status)
}

func TestSweep_StaleThenOffline(t *testing.T) {
	clock := newFakeClock()
	disconnect := &recordingDisconnector{}
	tr := newTestTracker(clock, disconnect)

	tr.Register("agent-1")

	// 35s of silence: past the 30s stale threshold.
	clock.Advance(35 * time.Second)
	tr.Sweep()

	record, _ := tr.Agent("agent-1")
	assert.Equal(t, models.AgentStale, record.Status)

	alerts := tr.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "agent-1", alerts[0].AgentID)
	assert.Empty(t, disconnect.agents)

	// 90s total: past the 60s offline threshold.
	clock.Advance(55 * time.Second)
	tr.Sweep()

	record, _ = tr.Agent("agent-1")
	assert.Equal(t, models.AgentOffline, record.Status)

	alerts = tr.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, models.SeverityCritical, alerts[1].Severity)
	assert.Equal(t, []string{"agent-1"}, disconnect.agents)
}

func TestSweep_TransitionsFireOnce(t *testing.T) {
	clock := newFakeClock()
	disconnect := &recordingDisconnector{}
	tr := newTestTracker(clock, disconnect)

	tr.Register("agent-1")
	clock.Advance(35 * time.Second)

	tr.Sweep()
	tr.Sweep()
	tr.Sweep()
	assert.Len(t, tr.Alerts(), 1, "repeated sweeps must not re-raise the stale alert")

	clock.Advance(55 * time.Second)
	tr.Sweep()
	tr.Sweep()
	assert.Len(t, tr.Alerts(), 2, "repeated sweeps must not re-raise the offline alert")
	assert.Len(t, disconnect.agents, 1, "disconnect fires once per offline transition")
}

func TestHeartbeatRevertsStaleToHealthy(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, nil)

	tr.Register("agent-1")
	clock.Advance(35 * time.Second)
	tr.Sweep()

	record, _ := tr.Agent("agent-1")
	require.Equal(t, models.AgentStale, record.Status)

	alerts := tr.Alerts()
	require.Len(t, alerts, 1)
	require.NoError(t, tr.Acknowledge(alerts[0].ID))

	clock.Advance(time.Second)
	tr.Heartbeat("agent-1")

	record, _ = tr.Agent("agent-1")
	assert.Equal(t, models.AgentHealthy, record.Status)
	assert.Empty(t, record.OpenAlerts)

	// Recovery must not raise anything new, and the acknowledged alert
	// stays acknowledged.
	tr.Sweep()
	alerts = tr.Alerts()
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Acknowledged)
}

func TestHeartbeatAfterOfflineReRegisters(t *testing.T) {
	clock := newFakeClock()
	disconnect := &recordingDisconnector{}
	tr := newTestTracker(clock, disconnect)

	tr.Register("agent-1")
	clock.Advance(90 * time.Second)
	tr.Sweep()

	record, _ := tr.Agent("agent-1")
	require.Equal(t, models.AgentOffline, record.Status)

	clock.Advance(time.Second)
	tr.Heartbeat("agent-1")

	record, _ = tr.Agent("agent-1")
	assert.Equal(t, models.AgentHealthy, record.Status)
	assert.Equal(t, clock.Now(), record.RegisteredAt, "offline recovery starts a fresh lifecycle")
	assert.Empty(t, record.OpenAlerts)

	// The fresh lifecycle can go stale and alert again.
	clock.Advance(35 * time.Second)
	tr.Sweep()
	assert.Len(t, tr.Alerts(), 2)
}

func TestAcknowledge(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, nil)

	tr.Register("agent-1")
	clock.Advance(35 * time.Second)
	tr.Sweep()

	alerts := tr.Alerts()
	require.Len(t, alerts, 1)

	require.NoError(t, tr.Acknowledge(alerts[0].ID))
	assert.True(t, tr.Alerts()[0].Acknowledged)

	record, _ := tr.Agent("agent-1")
	assert.Equal(t, models.AgentStale, record.Status, "acknowledging does not change agent status")
	assert.Empty(t, record.OpenAlerts)

	assert.ErrorIs(t, tr.Acknowledge("alert-ghost"), ErrUnknownAlert)
}

func TestSweep_IndependentAgents(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, nil)

	tr.Register("agent-quiet")
	tr.Register("agent-chatty")

	clock.Advance(35 * time.Second)
	tr.Heartbeat("agent-chatty")
	tr.Sweep()

	quiet, _ := tr.Agent("agent-quiet")
	chatty, _ := tr.Agent("agent-chatty")
	assert.Equal(t, models.AgentStale, quiet.Status)
	assert.Equal(t, models.AgentHealthy, chatty.Status)
}

func TestAgentsSnapshotIncludesOffline(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, nil)

	tr.Register("agent-1")
	tr.Register("agent-2")
	clock.Advance(90 * time.Second)
	tr.Heartbeat("agent-2")
	tr.Sweep()

	table := tr.Agents()
	require.Len(t, table, 2)

	statuses := map[string]string{}
	for _, record := range table {
		statuses[record.AgentID] = record.Status
	}
	assert.Equal(t, models.AgentOffline, statuses["agent-1"])
	assert.Equal(t, models.AgentHealthy, statuses["agent-2"])
}
