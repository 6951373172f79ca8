// Package store persists the observable state of the swarm: terminal
// tasks, alerts, the agent health table, and the full channel message
// history needed to recompute consensus after the fact.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/keller/swarmd/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Store manages the SQLite database backing the audit surface.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a Store and initializes the database schema.
func NewStore(dbPath string) (*Store, error) {
	// Handle in-memory database
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	// Ensure parent directory exists for file-based databases
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

// openAndInitStore opens the database connection and initializes schema
func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure SQLite for concurrent access with retry logic.
	// Set busy_timeout FIRST so subsequent operations wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on
// lock errors.
func execWithRetry(db *sql.DB, sqlStmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(sqlStmt)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ArchiveTask records a terminal task in the history table. Archived rows
// are never mutated again.
func (s *Store) ArchiveTask(task models.Task) error {
	if !task.IsTerminal() {
		return fmt.Errorf("refusing to archive non-terminal task %s (status %s)", task.ID, task.Status)
	}

	params, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("marshal task params: %w", err)
	}
	result, err := json.Marshal(task.Result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}

	var completedAt interface{}
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.UTC()
	}

	query := `INSERT INTO task_history
		(task_id, task_type, params, status, assigned_to, retry_count, max_retries, result, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query,
		task.ID, task.Type, string(params), task.Status, task.AssignedTo,
		task.RetryCount, task.MaxRetries, string(result), task.Error,
		task.CreatedAt.UTC(), completedAt)
	if err != nil {
		return fmt.Errorf("archive task %s: %w", task.ID, err)
	}
	return nil
}

// TaskHistory returns archived tasks, newest first. An empty status
// returns everything; otherwise only tasks with that terminal status.
func (s *Store) TaskHistory(status string) ([]models.Task, error) {
	query := `SELECT task_id, task_type, params, status, assigned_to, retry_count, max_retries, result, error, created_at, completed_at
		FROM task_history`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY archived_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var params, result string
		var completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Type, &params, &t.Status, &t.AssignedTo,
			&t.RetryCount, &t.MaxRetries, &result, &t.Error, &t.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task history row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(result), &t.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result for %s: %w", t.ID, err)
		}
		if completedAt.Valid {
			ts := completedAt.Time
			t.CompletedAt = &ts
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveAlert records a newly raised alert.
func (s *Store) SaveAlert(alert models.Alert) error {
	query := `INSERT INTO alerts (alert_id, severity, agent_id, message, acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, alert.ID, alert.Severity, alert.AgentID, alert.Message,
		alert.Acknowledged, alert.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	return nil
}

// AcknowledgeAlert marks a stored alert acknowledged. Returns the number
// of rows updated (0 means the alert is unknown).
func (s *Store) AcknowledgeAlert(alertID string) (int64, error) {
	res, err := s.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE alert_id = ?`, alertID)
	if err != nil {
		return 0, fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	return res.RowsAffected()
}

// Alerts returns the alert log, newest first.
func (s *Store) Alerts() ([]models.Alert, error) {
	rows, err := s.db.Query(`SELECT alert_id, severity, agent_id, message, acknowledged, created_at
		FROM alerts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.Severity, &a.AgentID, &a.Message, &a.Acknowledged, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpsertAgentHealth records the current health state of an agent. Rows are
// never deleted; offline agents remain visible for audit.
func (s *Store) UpsertAgentHealth(h models.AgentHealth) error {
	query := `INSERT INTO agent_health (agent_id, status, registered_at, last_heartbeat, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			registered_at = excluded.registered_at,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = CURRENT_TIMESTAMP`
	_, err := s.db.Exec(query, h.AgentID, h.Status, h.RegisteredAt.UTC(), h.LastHeartbeat.UTC())
	if err != nil {
		return fmt.Errorf("upsert agent health for %s: %w", h.AgentID, err)
	}
	return nil
}

// AgentHealthTable returns the persisted health table, ordered by agent id.
func (s *Store) AgentHealthTable() ([]models.AgentHealth, error) {
	rows, err := s.db.Query(`SELECT agent_id, status, registered_at, last_heartbeat
		FROM agent_health ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("query agent health: %w", err)
	}
	defer rows.Close()

	var table []models.AgentHealth
	for rows.Next() {
		var h models.AgentHealth
		if err := rows.Scan(&h.AgentID, &h.Status, &h.RegisteredAt, &h.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan agent health row: %w", err)
		}
		table = append(table, h)
	}
	return table, rows.Err()
}

// AppendMessage records a channel envelope in the message log. The full
// log is what makes consensus recomputable after the fact.
func (s *Store) AppendMessage(env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	query := `INSERT INTO message_log (message_id, kind, sender, sent_at, payload)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, env.ID, env.Kind, env.Sender, env.SentAt.UTC(), string(payload)); err != nil {
		return fmt.Errorf("append message %s: %w", env.ID, err)
	}
	return nil
}

// MessageLog replays stored envelopes in insertion order. An empty kind
// returns everything; otherwise only messages of that kind.
func (s *Store) MessageLog(kind string) ([]models.Envelope, error) {
	query := `SELECT payload FROM message_log`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message log: %w", err)
	}
	defer rows.Close()

	var envelopes []models.Envelope
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		var env models.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, fmt.Errorf("unmarshal stored envelope: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}
