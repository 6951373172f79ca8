package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keller/swarmd/internal/channel"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
	"github.com/keller/swarmd/internal/retry"
)

// TaskSource hands out pending tasks. *coordinator.Coordinator satisfies it.
type TaskSource interface {
	AssignNext(agentID string) (models.Task, bool)
}

// AgentConfig holds one scanner agent's settings.
type AgentConfig struct {
	// AgentID identifies this agent on the channel and in the health table.
	AgentID string

	// HeartbeatInterval is how often the agent broadcasts a heartbeat.
	HeartbeatInterval time.Duration

	// IdleWait is how long the agent sleeps when the task queue is empty.
	IdleWait time.Duration

	// Retry governs reattempts when the channel is transiently unavailable.
	Retry retry.Policy
}

// Agent is a scanner worker: it heartbeats on the channel, pulls scan
// tasks from its task source, executes them, and broadcasts the outcome
// as a task report.
type Agent struct {
	cfg   AgentConfig
	tasks TaskSource
	ch    channel.Channel
	log   logger.Logger
}

// NewAgent creates a scanner agent. log may be nil.
func NewAgent(cfg AgentConfig, tasks TaskSource, ch channel.Channel, log logger.Logger) *Agent {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Agent{cfg: cfg, tasks: tasks, ch: ch, log: log}
}

// Run drives the agent until ctx is cancelled. The first heartbeat doubles
// as registration: the health tracker creates a record on first contact.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.heartbeat(ctx); err != nil {
		return fmt.Errorf("agent %s failed to register: %w", a.cfg.AgentID, err)
	}
	a.log.LogInfo(fmt.Sprintf("agent %s joined the swarm", a.cfg.AgentID))

	heartbeats := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeats.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.LogInfo(fmt.Sprintf("agent %s shutting down", a.cfg.AgentID))
			return ctx.Err()
		case <-heartbeats.C:
			if err := a.heartbeat(ctx); err != nil {
				a.log.LogWarn(fmt.Sprintf("agent %s heartbeat dropped: %v", a.cfg.AgentID, err))
			}
		default:
		}

		task, ok := a.tasks.AssignNext(a.cfg.AgentID)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.IdleWait):
			}
			continue
		}

		a.execute(ctx, task)
	}
}

// execute runs one scan task and reports the outcome on the channel.
func (a *Agent) execute(ctx context.Context, task models.Task) {
	a.log.LogInfo(fmt.Sprintf("agent %s executing %s (region %s)", a.cfg.AgentID, task.ID, task.Params["region"]))

	report := models.TaskReport{
		TaskID:     task.ID,
		AgentID:    a.cfg.AgentID,
		ReportedAt: time.Now(),
	}

	regionReport, err := ScanRegion(task.Params["region"], task.Params["pattern"])
	if err != nil {
		report.Success = false
		report.Error = err.Error()
		a.log.LogWarn(fmt.Sprintf("agent %s task %s failed: %v", a.cfg.AgentID, task.ID, err))
	} else {
		report.Success = true
		report.Report = &regionReport
		a.log.LogInfo(fmt.Sprintf("agent %s task %s done: %d artifact(s), %d error(s)",
			a.cfg.AgentID, task.ID, len(regionReport.Results), len(regionReport.Errors)))
	}

	if err := a.broadcast(ctx, channel.NewTaskReportEnvelope(a.cfg.AgentID, report)); err != nil {
		// The coordinator will eventually reassign the task when this
		// agent is swept offline; losing the report is not fatal here.
		a.log.LogError(fmt.Sprintf("agent %s could not report task %s: %v", a.cfg.AgentID, task.ID, err))
	}
}

func (a *Agent) heartbeat(ctx context.Context) error {
	return a.broadcast(ctx, channel.NewHeartbeatEnvelope(a.cfg.AgentID))
}

// broadcast publishes with retries on transient channel failures.
func (a *Agent) broadcast(ctx context.Context, env models.Envelope) error {
	return a.cfg.Retry.Do(ctx, func() error {
		return a.ch.Broadcast(env)
	}, func(err error) bool {
		return errors.Is(err, channel.ErrChannelUnavailable)
	})
}
