// Package coordinator owns the shared task queue and task lifecycle:
// submission, FIFO assignment to idle agents, completion and failure
// handling with bounded retries, and reassignment when an agent
// disconnects.
//
// All lifecycle transitions are serialized behind a single mutex, so a
// task is never assigned to two agents at once.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keller/swarmd/internal/logger"
	"github.com/keller/swarmd/internal/models"
)

// ErrUnknownTask is returned for operations on a task id the coordinator
// has never seen or has already archived.
var ErrUnknownTask = errors.New("unknown task")

// ErrInvalidTransition is returned when an operation is applied to a task
// in the wrong state, e.g. completing a task that was never assigned.
var ErrInvalidTransition = errors.New("invalid task transition")

// Archiver receives terminal tasks for the history store. *store.Store
// satisfies it.
type Archiver interface {
	ArchiveTask(task models.Task) error
}

// Config holds coordinator configuration.
type Config struct {
	// MaxRetries is the retry budget applied to submitted tasks.
	MaxRetries int
}

// Summary is a point-in-time snapshot of the coordinator's queues.
type Summary struct {
	Pending           int `json:"pending"`
	Assigned          int `json:"assigned"`
	Completed         int `json:"completed"`
	PermanentlyFailed int `json:"permanently_failed"`
}

// Coordinator owns task state. Exactly one coordinator instance owns any
// given queue; collaborators hold a reference rather than a global.
type Coordinator struct {
	mu         sync.Mutex
	maxRetries int

	pending  []*models.Task          // FIFO queue of unassigned tasks
	active   map[string]*models.Task // all non-terminal tasks by id
	terminal map[string]models.Task  // archived copies kept for status queries

	completed int
	permanent int

	archive Archiver
	log     logger.Logger
}

// New creates a Coordinator. archive may be nil (history kept in memory
// only); log may be nil.
func New(cfg Config, archive Archiver, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Coordinator{
		maxRetries: cfg.MaxRetries,
		active:     make(map[string]*models.Task),
		terminal:   make(map[string]models.Task),
		archive:    archive,
		log:        log,
	}
}

// Submit enqueues a new pending task and returns its id.
func (c *Coordinator) Submit(taskType string, params map[string]string) (string, error) {
	task := &models.Task{
		ID:         fmt.Sprintf("task-%s", uuid.NewString()[:8]),
		Type:       taskType,
		Params:     params,
		Status:     models.TaskPending,
		MaxRetries: c.maxRetries,
		CreatedAt:  time.Now(),
	}
	if err := task.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, task)
	c.active[task.ID] = task

	c.log.LogInfo(fmt.Sprintf("task submitted: %s (%s)", task.ID, taskType))
	return task.ID, nil
}

// AssignNext pops the oldest pending task and hands it exclusively to the
// given agent. Returns ok=false when the queue is empty.
func (c *Coordinator) AssignNext(agentID string) (models.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return models.Task{}, false
	}

	task := c.pending[0]
	c.pending = c.pending[1:]

	task.Status = models.TaskAssigned
	task.AssignedTo = agentID
	if task.StartedAt == nil {
		now := time.Now()
		task.StartedAt = &now
	}

	c.log.LogInfo(fmt.Sprintf("task %s assigned to %s", task.ID, agentID))
	return *task, true
}

// Complete moves an assigned task to completed and archives it.
// Valid only from the assigned state.
func (c *Coordinator) Complete(taskID string, result map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.active[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != models.TaskAssigned {
		return fmt.Errorf("%w: cannot complete task %s in state %s", ErrInvalidTransition, taskID, task.Status)
	}

	now := time.Now()
	task.Status = models.TaskCompleted
	task.CompletedAt = &now
	task.Result = result

	c.completed++
	c.archiveLocked(*task)
	c.log.LogInfo(fmt.Sprintf("task %s completed by %s", taskID, task.AssignedTo))
	return nil
}

// Fail records a task execution failure. The failure is charged against
// the retry budget: the task is requeued at the back of the pending queue
// while retries remain, and becomes permanently failed once it has failed
// MaxRetries times. Valid only from the assigned state.
func (c *Coordinator) Fail(taskID string, taskErr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.active[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != models.TaskAssigned {
		return fmt.Errorf("%w: cannot fail task %s in state %s", ErrInvalidTransition, taskID, task.Status)
	}

	agentID := task.AssignedTo
	task.Error = taskErr
	task.RetryCount++
	task.AssignedTo = ""

	if task.RetryCount < task.MaxRetries {
		task.Status = models.TaskPending
		c.pending = append(c.pending, task)
		c.log.LogWarn(fmt.Sprintf("task %s failed on %s, requeued (attempt %d/%d): %s",
			taskID, agentID, task.RetryCount, task.MaxRetries, taskErr))
		return nil
	}

	now := time.Now()
	task.Status = models.TaskPermanentlyFailed
	task.CompletedAt = &now
	c.permanent++
	c.archiveLocked(*task)
	// Permanent failures are surfaced loudly; they must never disappear.
	c.log.LogError(fmt.Sprintf("task %s permanently failed after %d attempts: %s",
		taskID, task.RetryCount, taskErr))
	return nil
}

// HandleDisconnect returns every task assigned to the agent to the pending
// queue. A disconnect is not the task's fault: the retry count is not
// incremented.
func (c *Coordinator) HandleDisconnect(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	reassigned := 0
	for _, task := range c.active {
		if task.Status != models.TaskAssigned || task.AssignedTo != agentID {
			continue
		}
		task.Status = models.TaskPending
		task.AssignedTo = ""
		c.pending = append(c.pending, task)
		reassigned++
		c.log.LogWarn(fmt.Sprintf("task %s returned to queue after %s disconnected", task.ID, agentID))
	}
	return reassigned
}

// HandleReport routes an agent's task report to Complete or Fail.
func (c *Coordinator) HandleReport(report models.TaskReport) error {
	if report.Success {
		result := map[string]string{}
		if report.Report != nil {
			result["region"] = report.Report.Region
			result["artifacts"] = fmt.Sprintf("%d", len(report.Report.Results))
			result["artifact_errors"] = fmt.Sprintf("%d", len(report.Report.Errors))
		}
		return c.Complete(report.TaskID, result)
	}
	return c.Fail(report.TaskID, report.Error)
}

// Status returns the current status and retry count of a task, including
// archived terminal tasks.
func (c *Coordinator) Status(taskID string) (string, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task, ok := c.active[taskID]; ok {
		return task.Status, task.RetryCount, nil
	}
	if task, ok := c.terminal[taskID]; ok {
		return task.Status, task.RetryCount, nil
	}
	return "", 0, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
}

// Task returns a copy of a tracked task (active or terminal).
func (c *Coordinator) Task(taskID string) (models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task, ok := c.active[taskID]; ok {
		return *task, nil
	}
	if task, ok := c.terminal[taskID]; ok {
		return task, nil
	}
	return models.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
}

// Summary returns a snapshot of queue depths and terminal counts.
func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	assigned := 0
	for _, task := range c.active {
		if task.Status == models.TaskAssigned {
			assigned++
		}
	}
	return Summary{
		Pending:           len(c.pending),
		Assigned:          assigned,
		Completed:         c.completed,
		PermanentlyFailed: c.permanent,
	}
}

// archiveLocked moves a terminal task out of the active set. Caller holds
// the mutex.
func (c *Coordinator) archiveLocked(task models.Task) {
	delete(c.active, task.ID)
	c.terminal[task.ID] = task

	if c.archive == nil {
		return
	}
	if err := c.archive.ArchiveTask(task); err != nil {
		// The in-memory copy remains queryable even if persistence fails.
		c.log.LogError(fmt.Sprintf("failed to archive task %s: %v", task.ID, err))
	}
}
