package approval

import (
	"context"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// DecisionRecord is the conditional write performed by a decision.
type DecisionRecord struct {
	ID                 string
	ApproverID         string
	Status             models.ApprovalStatus
	DenialReason       string
	ConditionsAccepted bool
	At                 time.Time
}

// Store persists approval requests. DecideApproval and ExpireApproval are
// compare-and-swap operations: of any number of concurrent calls for one id,
// at most one succeeds.
type Store interface {
	// CreateApproval inserts a pending request. It returns ErrAlreadyExists
	// if the task already has one.
	CreateApproval(ctx context.Context, req *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetApprovalByTask(ctx context.Context, taskID string) (*models.ApprovalRequest, error)
	// ListApprovals returns matching requests ordered by creation time.
	ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error)
	// DecideApproval applies the decision only if the request is pending and
	// rec.At is before TimeoutAt. Otherwise it returns ErrNotFound, a
	// *StateError, or ErrExpired.
	DecideApproval(ctx context.Context, rec DecisionRecord) (*models.ApprovalRequest, error)
	// ExpireApproval moves a pending request to expired and reports whether
	// this call made the transition.
	ExpireApproval(ctx context.Context, id string, at time.Time, reason string) (bool, error)
	// AppendAudit adds an audit entry. Terminal requests accept audit entries.
	AppendAudit(ctx context.Context, id string, entry models.AuditEntry) error
}
