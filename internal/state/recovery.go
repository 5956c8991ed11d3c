package state

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// RecoveryReport summarizes what RecoverInterrupted changed.
type RecoveryReport struct {
	Sessions         []string
	TimedOutTasks    int
	CancelledTasks   int
	ExpiredApprovals int
}

// Empty reports whether nothing needed recovery.
func (r *RecoveryReport) Empty() bool {
	return len(r.Sessions) == 0 && r.ExpiredApprovals == 0
}

// TaskRecoverer fails processing tasks that have no live dispatch and
// returns them. *correlation.Manager implements it.
type TaskRecoverer interface {
	Recover(tasks []*models.Task, now time.Time) []*models.Task
}

// RecoverOption configures RecoverInterrupted.
type RecoverOption func(*recoverOptions)

type recoverOptions struct {
	inFlight TaskRecoverer
}

// WithInFlight consults r before timing out processing tasks. A session
// with a task r still considers in flight is left untouched.
func WithInFlight(r TaskRecoverer) RecoverOption {
	return func(o *recoverOptions) { o.inFlight = r }
}

// RecoverInterrupted finalizes sessions left analyzing by a process that
// is no longer running. Tasks left processing have no live correlation
// entry and fail as timed out; pending tasks are cancelled; the session
// fails. Pending approvals bound to tasks that are no longer waiting are
// expired.
func (db *DB) RecoverInterrupted(ctx context.Context, now time.Time, opts ...RecoverOption) (*RecoveryReport, error) {
	var o recoverOptions
	for _, opt := range opts {
		opt(&o)
	}
	report := &RecoveryReport{}

	rows, err := db.Query(ctx, `SELECT id, owner_pid FROM sessions WHERE status = ?`, string(models.SessionStatusAnalyzing))
	if err != nil {
		return nil, fmt.Errorf("list interrupted sessions: %w", err)
	}
	type candidate struct {
		id  string
		pid int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.pid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()

	for _, c := range candidates {
		if c.pid != db.pid && isProcessAlive(c.pid) {
			continue
		}
		if err := db.recoverSession(ctx, c.id, now, o.inFlight, report); err != nil {
			return report, err
		}
	}

	n, err := db.expireOrphanedApprovals(ctx, now)
	report.ExpiredApprovals += n
	return report, err
}

func (db *DB) recoverSession(ctx context.Context, id string, now time.Time, inFlight TaskRecoverer, report *RecoveryReport) error {
	s, err := db.GetSession(ctx, id)
	if err != nil {
		return err
	}

	timedOut := make(map[string]bool)
	if inFlight != nil {
		for _, t := range inFlight.Recover(s.Tasks, now) {
			timedOut[t.ID] = true
		}
		for _, t := range s.Tasks {
			if t.Status == models.TaskStatusProcessing {
				return nil
			}
		}
	}

	for _, t := range s.Tasks {
		switch {
		case timedOut[t.ID]:
			report.TimedOutTasks++
		case t.Status == models.TaskStatusProcessing:
			_ = t.Fail(models.ErrorKindTimeout, "interrupted: no result before restart", now)
			report.TimedOutTasks++
		case t.Status == models.TaskStatusPending:
			_ = t.Cancel(models.ErrorKindCancelled, "session interrupted", now)
			report.CancelledTasks++
		default:
			continue
		}
		if err := db.SaveTask(ctx, t); err != nil {
			return err
		}
		s.Touch()
	}

	if err := s.Transition(models.SessionStatusFailed, now); err != nil {
		return err
	}
	if err := db.SaveSession(ctx, s); err != nil {
		return err
	}
	log.Printf("[state] recovered interrupted session %s", id)
	report.Sessions = append(report.Sessions, id)
	return nil
}

func (db *DB) expireOrphanedApprovals(ctx context.Context, now time.Time) (int, error) {
	rows, err := db.Query(ctx, `
		SELECT a.id FROM approval_requests a JOIN tasks t ON t.id = a.task_id
		WHERE a.status = ? AND t.status != ?
	`, string(models.ApprovalStatusPending), string(models.TaskStatusPending))
	if err != nil {
		return 0, fmt.Errorf("list orphaned approvals: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan approval: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	expired := 0
	for _, id := range ids {
		ok, err := db.ExpireApproval(ctx, id, now, "task no longer waiting")
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		entry := models.AuditEntry{At: now, Actor: "system", Action: string(models.ApprovalStatusExpired), Detail: "recovered: task no longer waiting"}
		if err := db.AppendAudit(ctx, id, entry); err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
