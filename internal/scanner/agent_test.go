package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keller/swarmd/internal/channel"
	"github.com/keller/swarmd/internal/models"
	"github.com/keller/swarmd/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueSource serves a fixed list of tasks, then reports an empty queue.
type queueSource struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (q *queueSource) AssignNext(agentID string) (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return models.Task{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	task.Status = models.TaskAssigned
	task.AssignedTo = agentID
	return task, true
}

func testAgentConfig(id string) AgentConfig {
	return AgentConfig{
		AgentID:           id,
		HeartbeatInterval: 10 * time.Millisecond,
		IdleWait:          5 * time.Millisecond,
		Retry:             retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}
}

// pollUntil polls the channel until the predicate matches an envelope or
// the deadline passes.
func pollUntil(t *testing.T, ch channel.Channel, match func(models.Envelope) bool) models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	var cursor channel.Cursor
	for {
		select {
		case <-deadline:
			t.Fatal("expected envelope never arrived")
		default:
		}
		batch, next, err := ch.Poll(cursor)
		require.NoError(t, err)
		cursor = next
		for _, env := range batch {
			if match(env) {
				return env
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestAgentRegistersWithHeartbeat(t *testing.T) {
	ch := channel.NewMemoryChannel()
	agent := NewAgent(testAgentConfig("agent-1"), &queueSource{}, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	env := pollUntil(t, ch, func(e models.Envelope) bool { return e.Kind == models.KindHeartbeat })
	assert.Equal(t, "agent-1", env.Sender)
	require.NotNil(t, env.Heartbeat)
	assert.Equal(t, "agent-1", env.Heartbeat.AgentID)
}

func TestAgentScansAndReports(t *testing.T) {
	region := t.TempDir()
	writeArtifact(t, region, "a.txt", "hello")
	writeArtifact(t, region, "b.txt", "world")

	source := &queueSource{tasks: []models.Task{{
		ID:     "task-1",
		Type:   "region_scan",
		Params: map[string]string{"region": region},
		Status: models.TaskPending,
	}}}

	ch := channel.NewMemoryChannel()
	agent := NewAgent(testAgentConfig("agent-1"), source, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	env := pollUntil(t, ch, func(e models.Envelope) bool { return e.Kind == models.KindTaskReport })
	require.NotNil(t, env.TaskReport)
	assert.Equal(t, "task-1", env.TaskReport.TaskID)
	assert.Equal(t, "agent-1", env.TaskReport.AgentID)
	assert.True(t, env.TaskReport.Success)
	require.NotNil(t, env.TaskReport.Report)
	assert.Len(t, env.TaskReport.Report.Results, 2)
}

func TestAgentReportsRegionFailure(t *testing.T) {
	source := &queueSource{tasks: []models.Task{{
		ID:     "task-1",
		Type:   "region_scan",
		Params: map[string]string{"region": "/nonexistent/region"},
		Status: models.TaskPending,
	}}}

	ch := channel.NewMemoryChannel()
	agent := NewAgent(testAgentConfig("agent-1"), source, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	env := pollUntil(t, ch, func(e models.Envelope) bool { return e.Kind == models.KindTaskReport })
	require.NotNil(t, env.TaskReport)
	assert.False(t, env.TaskReport.Success)
	assert.NotEmpty(t, env.TaskReport.Error)
	assert.Nil(t, env.TaskReport.Report)
}

func TestAgentStopsOnCancel(t *testing.T) {
	ch := channel.NewMemoryChannel()
	agent := NewAgent(testAgentConfig("agent-1"), &queueSource{}, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	pollUntil(t, ch, func(e models.Envelope) bool { return e.Kind == models.KindHeartbeat })
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop after cancellation")
	}
}
