package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// SaveSession inserts or updates the session row. Tasks are saved
// separately with SaveTask.
func (db *DB) SaveSession(ctx context.Context, s *models.Session) error {
	_, err := db.Exec(ctx, `
		INSERT INTO sessions (id, requirement, status, version, owner_pid, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			owner_pid = excluded.owner_pid,
			completed_at = excluded.completed_at
	`, s.ID, s.Requirement, string(s.Status), s.Version, db.pid,
		formatTime(s.CreatedAt), formatNullableTime(s.CompletedAt))
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession retrieves a session and its tasks in dispatch order.
func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := db.QueryRow(ctx, `
		SELECT id, requirement, status, version, created_at, completed_at
		FROM sessions WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	tasks, err := db.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Tasks = tasks
	return s, nil
}

// ListSessions lists sessions newest first, optionally filtered by status.
// A limit of zero returns all. Tasks are not loaded.
func (db *DB) ListSessions(ctx context.Context, status *models.SessionStatus, limit int) ([]*models.Session, error) {
	query := `SELECT id, requirement, status, version, created_at, completed_at FROM sessions`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession deletes a session together with its tasks and their
// approval requests.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := db.Exec(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeOldSessions deletes finished sessions created before now minus
// olderThan. Returns the number of sessions deleted.
func (db *DB) PurgeOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(ctx, `
		DELETE FROM sessions WHERE created_at < ? AND status IN (?, ?)
	`, cutoff, string(models.SessionStatusCompleted), string(models.SessionStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("purge old sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var s models.Session
	var createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&s.ID, &s.Requirement, &s.Status, &s.Version, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	s.CreatedAt, _ = parseTime(createdAt)
	s.CompletedAt = parseNullableTime(completedAt)
	return &s, nil
}

const taskColumns = `id, session_id, task_type, capability, priority, status, awaiting_approval,
	input, output, error, error_kind, quality_score, confidence_score, depends_on, timeout_ns,
	action_type, target, tool_name, command, created_at, started_at, completed_at, processing_time_ns`

// SaveTask inserts or updates a task. New tasks are appended after the
// session's existing tasks.
func (db *DB) SaveTask(ctx context.Context, t *models.Task) error {
	input, err := encodeJSON(t.Input, len(t.Input) == 0)
	if err != nil {
		return fmt.Errorf("encode task input: %w", err)
	}
	output, err := encodeJSON(t.Output, len(t.Output) == 0)
	if err != nil {
		return fmt.Errorf("encode task output: %w", err)
	}
	dependsOn, _ := encodeJSON(t.DependsOn, len(t.DependsOn) == 0)

	_, err = db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE session_id = ?))
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			awaiting_approval = excluded.awaiting_approval,
			output = excluded.output,
			error = excluded.error,
			error_kind = excluded.error_kind,
			quality_score = excluded.quality_score,
			confidence_score = excluded.confidence_score,
			depends_on = excluded.depends_on,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			processing_time_ns = excluded.processing_time_ns
	`, t.ID, t.SessionID, t.TaskType, t.Capability, string(t.Priority), string(t.Status),
		boolInt(t.AwaitingApproval), input, output, t.Error, string(t.ErrorKind),
		nullableFloat(t.QualityScore), nullableFloat(t.ConfidenceScore), dependsOn, int64(t.Timeout),
		t.ActionType, t.Target, t.ToolName, t.Command, formatTime(t.CreatedAt),
		formatNullableTime(t.StartedAt), formatNullableTime(t.CompletedAt), int64(t.ProcessingTime),
		t.SessionID)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns a session's tasks in dispatch order.
func (db *DB) ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	return db.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? ORDER BY position`, sessionID)
}

// ListTasksByStatus returns tasks in the given status across all sessions.
func (db *DB) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	return db.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, position`, string(status))
}

func (db *DB) listTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var (
		awaiting               int
		input, output, deps    sql.NullString
		quality, confidence    sql.NullFloat64
		timeoutNs, processedNs int64
		createdAt              string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.SessionID, &t.TaskType, &t.Capability, &t.Priority, &t.Status, &awaiting,
		&input, &output, &t.Error, &t.ErrorKind, &quality, &confidence, &deps, &timeoutNs,
		&t.ActionType, &t.Target, &t.ToolName, &t.Command, &createdAt, &startedAt, &completedAt, &processedNs)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(input, &t.Input); err != nil {
		return nil, fmt.Errorf("decode input of task %s: %w", t.ID, err)
	}
	if err := decodeJSON(output, &t.Output); err != nil {
		return nil, fmt.Errorf("decode output of task %s: %w", t.ID, err)
	}
	if err := decodeJSON(deps, &t.DependsOn); err != nil {
		return nil, fmt.Errorf("decode dependencies of task %s: %w", t.ID, err)
	}
	t.AwaitingApproval = awaiting != 0
	t.QualityScore = floatPtr(quality)
	t.ConfidenceScore = floatPtr(confidence)
	t.Timeout = time.Duration(timeoutNs)
	t.ProcessingTime = time.Duration(processedNs)
	t.CreatedAt, _ = parseTime(createdAt)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}
