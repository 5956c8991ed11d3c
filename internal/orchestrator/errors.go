package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/internal/correlation"
	"github.com/ShayCichocki/warden/internal/directory"
	"github.com/ShayCichocki/warden/internal/risk"
	"github.com/ShayCichocki/warden/pkg/models"
)

var (
	// ErrSessionHasTasks is returned when Orchestrate gets a session that
	// was already planned.
	ErrSessionHasTasks = errors.New("session already has tasks")
	// ErrDecomposition wraps planner failures.
	ErrDecomposition = errors.New("decomposition failed")
	// ErrDependencyFailed marks tasks cancelled because a dependency did
	// not complete.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrApprovalDenied marks tasks whose approval was denied.
	ErrApprovalDenied = errors.New("approval denied")
	// ErrApprovalExpired marks tasks whose approval expired.
	ErrApprovalExpired = fmt.Errorf("approval expired: %w", approval.ErrExpired)
	// ErrLowQuality marks results below the minimum task quality.
	ErrLowQuality = errors.New("result quality below minimum")
	// ErrQualityGate is returned when every task completed but the overall
	// quality missed the threshold.
	ErrQualityGate = errors.New("overall quality below threshold")
	// ErrCancelled marks tasks abandoned because the session was cancelled.
	ErrCancelled = errors.New("session cancelled")
)

// TaskError describes why one task did not complete.
type TaskError struct {
	TaskID   string
	TaskType string
	Kind     models.ErrorKind
	Message  string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s) %s: %s", e.TaskID, e.TaskType, e.Kind, e.Message)
}

// Unwrap maps the error kind to its sentinel so callers can use errors.Is.
func (e *TaskError) Unwrap() error {
	switch e.Kind {
	case models.ErrorKindTimeout:
		return correlation.ErrTimeout
	case models.ErrorKindRiskEvaluation:
		return risk.ErrMalformedTask
	case models.ErrorKindApprovalDenied:
		return ErrApprovalDenied
	case models.ErrorKindApprovalExpired:
		return ErrApprovalExpired
	case models.ErrorKindDirectoryResolution:
		return directory.ErrNotFound
	case models.ErrorKindDependencyFailed:
		return ErrDependencyFailed
	case models.ErrorKindCancelled:
		return ErrCancelled
	case models.ErrorKindLowQuality:
		return ErrLowQuality
	default:
		return nil
	}
}
