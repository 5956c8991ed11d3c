package models

import "time"

// ApprovalStatus represents the state of a human checkpoint.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Valid returns true if the status is a known value.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusDenied, ApprovalStatusExpired:
		return true
	default:
		return false
	}
}

// Terminal returns true once the request has left pending.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalStatusPending
}

// Outcome is the decision submitted by an approver.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeDeny    Outcome = "deny"
)

// ApprovalRequest is a human checkpoint bound to exactly one task.
type ApprovalRequest struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`

	ActionType string `json:"action_type,omitempty"`
	Target     string `json:"target,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Command    string `json:"command,omitempty"`

	RiskScore            float64  `json:"risk_score"`
	RiskFactors          []string `json:"risk_factors,omitempty"`
	RequiredApproverRole string   `json:"required_approver_role"`

	Status ApprovalStatus `json:"status"`
	// TimeoutAt is fixed at creation.
	TimeoutAt time.Time `json:"timeout_at"`

	ApproverID string `json:"approver_id,omitempty"`
	// ApprovedAt is the decision time for both approve and deny.
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	DenialReason string     `json:"denial_reason,omitempty"`

	ApprovalConditions []string `json:"approval_conditions,omitempty"`
	ConditionsAccepted bool     `json:"approval_conditions_accepted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Audit []AuditEntry `json:"audit,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	c := *r
	c.RiskFactors = append([]string(nil), r.RiskFactors...)
	c.ApprovalConditions = append([]string(nil), r.ApprovalConditions...)
	c.Audit = append([]AuditEntry(nil), r.Audit...)
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	return &c
}

// AuditEntry is an append-only record of something that happened to a request.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

// ApprovalFilter narrows a listing. Empty fields match everything.
type ApprovalFilter struct {
	SessionID string
	TaskID    string
	Role      string
	Statuses  []ApprovalStatus
	// DueBefore matches requests whose TimeoutAt is at or before the time.
	DueBefore *time.Time
}

// Matches reports whether the request satisfies the filter.
func (f ApprovalFilter) Matches(r *ApprovalRequest) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.TaskID != "" && r.TaskID != f.TaskID {
		return false
	}
	if f.Role != "" && r.RequiredApproverRole != f.Role {
		return false
	}
	if f.DueBefore != nil && r.TimeoutAt.After(*f.DueBefore) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}
