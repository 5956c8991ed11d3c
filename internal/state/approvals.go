package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/pkg/models"
)

const approvalColumns = `id, task_id, session_id, action_type, target, tool_name, command,
	risk_score, risk_factors, required_role, status, timeout_at, approver_id, approved_at,
	denial_reason, conditions, conditions_accepted, created_at, updated_at`

// CreateApproval inserts a pending request with its initial audit entries.
// The task row must already exist.
func (db *DB) CreateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	factors, _ := encodeJSON(req.RiskFactors, len(req.RiskFactors) == 0)
	conditions, _ := encodeJSON(req.ApprovalConditions, len(req.ApprovalConditions) == 0)

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO approval_requests (`+approvalColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO NOTHING
		`, req.ID, req.TaskID, req.SessionID, req.ActionType, req.Target, req.ToolName, req.Command,
			req.RiskScore, factors, req.RequiredApproverRole, string(req.Status), formatTime(req.TimeoutAt),
			req.ApproverID, formatNullableTime(req.ApprovedAt), req.DenialReason, conditions,
			boolInt(req.ConditionsAccepted), formatTime(req.CreatedAt), formatTime(req.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create approval %s: %w", req.ID, approval.ErrAlreadyExists)
			}
			return fmt.Errorf("create approval %s: %w", req.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return approval.ErrAlreadyExists
		}
		for _, entry := range req.Audit {
			if err := insertAudit(ctx, tx, req.ID, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetApproval retrieves a request with its audit log.
func (db *DB) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return db.getApproval(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
}

// GetApprovalByTask retrieves the request bound to a task.
func (db *DB) GetApprovalByTask(ctx context.Context, taskID string) (*models.ApprovalRequest, error) {
	return db.getApproval(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE task_id = ?`, taskID)
}

func (db *DB) getApproval(ctx context.Context, query, arg string) (*models.ApprovalRequest, error) {
	req, err := scanApproval(db.QueryRow(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	if req.Audit, err = db.listAudit(ctx, req.ID); err != nil {
		return nil, err
	}
	return req, nil
}

// ListApprovals returns matching requests ordered by creation time.
func (db *DB) ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	var where []string
	var args []any
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.Role != "" {
		where = append(where, "required_role = ?")
		args = append(args, filter.Role)
	}
	if filter.DueBefore != nil {
		where = append(where, "timeout_at <= ?")
		args = append(args, formatTime(*filter.DueBefore))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + approvalColumns + ` FROM approval_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, req)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	for _, req := range out {
		if req.Audit, err = db.listAudit(ctx, req.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecideApproval records the decision with a conditional update on a
// pending, unexpired row.
func (db *DB) DecideApproval(ctx context.Context, rec approval.DecisionRecord) (*models.ApprovalRequest, error) {
	at := formatTime(rec.At)
	res, err := db.Exec(ctx, `
		UPDATE approval_requests
		SET status = ?, approver_id = ?, approved_at = ?, denial_reason = ?,
			conditions_accepted = ?, updated_at = ?
		WHERE id = ? AND status = ? AND timeout_at > ?
	`, string(rec.Status), rec.ApproverID, at, rec.DenialReason, boolInt(rec.ConditionsAccepted), at,
		rec.ID, string(models.ApprovalStatusPending), at)
	if err != nil {
		return nil, fmt.Errorf("decide approval %s: %w", rec.ID, err)
	}

	n, _ := res.RowsAffected()
	req, err := db.GetApproval(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		return req, nil
	}
	if req.Status != models.ApprovalStatusPending {
		return nil, &approval.StateError{ID: req.ID, Status: req.Status}
	}
	return nil, approval.ErrExpired
}

// ExpireApproval moves a pending request to expired. It reports whether
// this call made the transition.
func (db *DB) ExpireApproval(ctx context.Context, id string, at time.Time, _ string) (bool, error) {
	res, err := db.Exec(ctx, `
		UPDATE approval_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(models.ApprovalStatusExpired), formatTime(at), id, string(models.ApprovalStatusPending))
	if err != nil {
		return false, fmt.Errorf("expire approval %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var exists int
	err = db.QueryRow(ctx, `SELECT 1 FROM approval_requests WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, approval.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("expire approval %s: %w", id, err)
	}
	return false, nil
}

// AppendAudit adds an audit entry to a request in any status.
func (db *DB) AppendAudit(ctx context.Context, id string, entry models.AuditEntry) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		return insertAudit(ctx, tx, id, entry)
	})
}

func insertAudit(ctx context.Context, tx *sql.Tx, id string, entry models.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO approval_audit (approval_id, at, actor, action, detail) VALUES (?, ?, ?, ?, ?)
	`, id, formatTime(entry.At), entry.Actor, entry.Action, entry.Detail)
	if isForeignKeyViolation(err) {
		return approval.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append audit to %s: %w", id, err)
	}
	return nil
}

func (db *DB) listAudit(ctx context.Context, id string) ([]models.AuditEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT at, actor, action, detail FROM approval_audit WHERE approval_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var at string
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.At, _ = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanApproval(row scanner) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	var (
		factors, conditions  sql.NullString
		timeoutAt, createdAt string
		updatedAt            string
		approvedAt           sql.NullString
		accepted             int
	)
	err := row.Scan(&r.ID, &r.TaskID, &r.SessionID, &r.ActionType, &r.Target, &r.ToolName, &r.Command,
		&r.RiskScore, &factors, &r.RequiredApproverRole, &r.Status, &timeoutAt, &r.ApproverID, &approvedAt,
		&r.DenialReason, &conditions, &accepted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(factors, &r.RiskFactors); err != nil {
		return nil, fmt.Errorf("decode risk factors of %s: %w", r.ID, err)
	}
	if err := decodeJSON(conditions, &r.ApprovalConditions); err != nil {
		return nil, fmt.Errorf("decode conditions of %s: %w", r.ID, err)
	}
	r.ConditionsAccepted = accepted != 0
	r.TimeoutAt, _ = parseTime(timeoutAt)
	r.ApprovedAt = parseNullableTime(approvedAt)
	r.CreatedAt, _ = parseTime(createdAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}

// Constraint violations are matched by SQLite's message text so the store
// does not depend on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
