package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/warden/internal/quality"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Result is the outcome of one session.
type Result struct {
	SessionID string
	Status    models.SessionStatus
	// Tasks are in dispatch order.
	Tasks []*models.Task
	// Artifacts maps task ID to the output of each completed task.
	Artifacts           map[string]map[string]any
	OverallQuality      float64
	TotalProcessingTime time.Duration
	// FirstError is the first failure in dispatch order, nil on success.
	FirstError  error
	Diagnostics []TaskDiagnostic
}

// TaskDiagnostic summarizes a task that did not pass.
type TaskDiagnostic struct {
	TaskID    string
	TaskType  string
	Status    models.TaskStatus
	ErrorKind models.ErrorKind
	Error     string
	// Approval is the approver id for decided requests, or "expired".
	Approval string
}

// Succeeded reports whether the session completed.
func (r *Result) Succeeded() bool {
	return r.Status == models.SessionStatusCompleted
}

func (o *Orchestrator) finalize(ctx context.Context, session *models.Session, agg *quality.Aggregator, approvals map[string]*models.ApprovalRequest) (*Result, error) {
	res := &Result{
		SessionID:      session.ID,
		Tasks:          session.Tasks,
		Artifacts:      make(map[string]map[string]any),
		OverallQuality: agg.Overall(),
	}

	for _, t := range session.Tasks {
		res.TotalProcessingTime += t.ProcessingTime
		kind, msg := o.verdict(agg, t)
		passed := kind == models.ErrorKindNone
		if t.Status == models.TaskStatusCompleted {
			res.Artifacts[t.ID] = t.Output
		}
		req := approvals[t.ID]
		if passed && req == nil {
			continue
		}
		if !passed && res.FirstError == nil {
			res.FirstError = &TaskError{TaskID: t.ID, TaskType: t.TaskType, Kind: kind, Message: msg}
		}
		res.Diagnostics = append(res.Diagnostics, diagnose(t, kind, msg, req))
	}

	status := models.SessionStatusFailed
	if agg.Passed() {
		status = models.SessionStatusCompleted
	} else if res.FirstError == nil {
		res.FirstError = fmt.Errorf("%w: %.2f < %.2f", ErrQualityGate, res.OverallQuality, o.policy.QualityThreshold)
	}
	res.Status = status

	if err := session.Transition(status, o.now()); err != nil {
		return res, err
	}
	o.metrics.SessionFinished(string(status), res.OverallQuality)
	var finalErr error
	if o.store != nil {
		if err := o.store.SaveSession(context.WithoutCancel(ctx), session); err != nil {
			finalErr = fmt.Errorf("persist final session %s: %w", session.ID, err)
		}
	}

	msg := fmt.Sprintf("%d tasks, quality %.2f", len(session.Tasks), res.OverallQuality)
	if res.FirstError != nil {
		msg += ": " + res.FirstError.Error()
	}
	o.emit(OrchestratorEvent{
		Type:      EventSessionDone,
		SessionID: session.ID,
		Status:    string(status),
		Message:   msg,
		Duration:  res.TotalProcessingTime,
	})
	o.logger.Log("session %s: %s", session.ID, msg)

	if finalErr != nil {
		return res, finalErr
	}
	return res, ctx.Err()
}

// diagnose builds the diagnostic for a failed, rejected or gated task.
func diagnose(t *models.Task, kind models.ErrorKind, msg string, req *models.ApprovalRequest) TaskDiagnostic {
	d := TaskDiagnostic{
		TaskID:    t.ID,
		TaskType:  t.TaskType,
		Status:    t.Status,
		ErrorKind: kind,
		Error:     msg,
	}
	if req != nil {
		if req.Status == models.ApprovalStatusExpired {
			d.Approval = string(models.ApprovalStatusExpired)
		} else {
			d.Approval = req.ApproverID
		}
	}
	return d
}
