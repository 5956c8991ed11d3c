package orchestrator

import (
	"context"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Service is the set of operations exposed to callers such as the CLI.
type Service interface {
	Orchestrate(ctx context.Context, session *models.Session) (*Result, error)
	SubmitApprovalDecision(ctx context.Context, approvalID, approverID string, outcome models.Outcome, reason string, conditionsAccepted bool) (*models.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error)
}

var _ Service = (*Orchestrator)(nil)

// SubmitApprovalDecision records an approver's verdict. A task waiting on the
// request resumes once the decision is stored.
func (o *Orchestrator) SubmitApprovalDecision(ctx context.Context, approvalID, approverID string, outcome models.Outcome, reason string, conditionsAccepted bool) (*models.ApprovalRequest, error) {
	req, err := o.gate.Decide(ctx, approval.Decision{
		ApprovalID:         approvalID,
		ApproverID:         approverID,
		Outcome:            outcome,
		Reason:             reason,
		ConditionsAccepted: conditionsAccepted,
	})
	if err != nil {
		return nil, err
	}
	o.logger.Log("approval %s: %s by %s", req.ID, req.Status, approverID)
	return req, nil
}

// ListPendingApprovals lists requests awaiting a decision. Requests past
// their deadline are expired first, so repeated calls return the same set.
func (o *Orchestrator) ListPendingApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	return o.gate.ListPending(ctx, filter)
}
