package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the state of an orchestration run.
type SessionStatus string

const (
	// SessionStatusDraft indicates the session has not been planned yet.
	SessionStatusDraft SessionStatus = "draft"
	// SessionStatusAnalyzing indicates tasks are being planned or executed.
	SessionStatusAnalyzing SessionStatus = "analyzing"
	// SessionStatusCompleted indicates every task completed above the quality gate.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusFailed indicates the session did not pass.
	SessionStatusFailed SessionStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusDraft, SessionStatusAnalyzing, SessionStatusCompleted, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is one orchestration run over a single requirement.
type Session struct {
	ID          string        `json:"id"`
	Requirement string        `json:"requirement"`
	Status      SessionStatus `json:"status"`
	// Version increments on every mutation.
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Tasks are kept in insertion order, which is also dispatch order.
	Tasks []*Task `json:"tasks,omitempty"`
}

// NewSession creates a draft session for the requirement.
func NewSession(requirement string, now time.Time) *Session {
	return &Session{
		ID:          uuid.New().String(),
		Requirement: requirement,
		Status:      SessionStatusDraft,
		Version:     1,
		CreatedAt:   now,
	}
}

// Transition moves the session to a new status. Terminal sessions cannot
// transition, and no session returns to draft.
func (s *Session) Transition(to SessionStatus, now time.Time) error {
	if s.Status.Terminal() || to == SessionStatusDraft || !to.Valid() {
		return fmt.Errorf("%w: session %s from %s to %s", ErrInvalidTransition, s.ID, s.Status, to)
	}
	s.Status = to
	if to.Terminal() {
		s.CompletedAt = &now
	}
	s.Version++
	return nil
}

// AddTask appends a task and bumps the version.
func (s *Session) AddTask(t *Task) {
	t.SessionID = s.ID
	s.Tasks = append(s.Tasks, t)
	s.Version++
}

// Touch records a mutation of an owned task.
func (s *Session) Touch() {
	s.Version++
}
