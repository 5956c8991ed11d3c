package approval

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/warden/pkg/models"
)

var (
	// ErrNotFound is returned when no request has the given id.
	ErrNotFound = errors.New("approval request not found")
	// ErrAlreadyExists is returned when the task already has a request.
	ErrAlreadyExists = errors.New("approval request already exists for task")
	// ErrInvalidState is matched by every StateError.
	ErrInvalidState = errors.New("approval request is not pending")
	// ErrExpired is returned when a decision arrives at or after TimeoutAt.
	ErrExpired = fmt.Errorf("approval request expired: %w", models.ErrTimeout)
	// ErrConditionsNotAccepted is returned when approving without accepting
	// the request's conditions.
	ErrConditionsNotAccepted = errors.New("approval conditions were not accepted")
	// ErrInvalidDecision is returned for a malformed decision.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// StateError reports a decision on a request that already left pending.
type StateError struct {
	ID     string
	Status models.ApprovalStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("approval request %s is already %s", e.ID, e.Status)
}

// Is makes errors.Is(err, ErrInvalidState) hold for every StateError.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
