package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusProcessing indicates the task has been sent to a worker.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the worker returned a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was abandoned before it finished.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// ErrorKind classifies why a task did not complete.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindTransportTransient  ErrorKind = "transport_transient"
	ErrorKindTransportPermanent  ErrorKind = "transport_permanent"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindRiskEvaluation      ErrorKind = "risk_evaluation"
	ErrorKindApprovalDenied      ErrorKind = "approval_denied"
	ErrorKindApprovalExpired     ErrorKind = "approval_expired"
	ErrorKindDirectoryResolution ErrorKind = "directory_resolution"
	ErrorKindDependencyFailed    ErrorKind = "dependency_failed"
	ErrorKindCancelled           ErrorKind = "cancelled"
	ErrorKindLowQuality          ErrorKind = "low_quality"
	ErrorKindInternal            ErrorKind = "internal"
)

// TaskSpec is one entry of a decomposition plan, before it becomes a Task.
type TaskSpec struct {
	// Key is a plan-local identifier used by DependsOn. Optional when
	// nothing depends on the task.
	Key        string         `json:"key,omitempty" yaml:"key,omitempty"`
	TaskType   string         `json:"task_type" yaml:"task_type"`
	Capability string         `json:"capability" yaml:"capability"`
	Priority   Priority       `json:"priority,omitempty" yaml:"priority,omitempty"`
	Input      map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	ActionType string         `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	Target     string         `json:"target,omitempty" yaml:"target,omitempty"`
	ToolName   string         `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	Command    string         `json:"command,omitempty" yaml:"command,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Task represents one unit of work sent to one worker.
type Task struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	TaskType   string     `json:"task_type"`
	Capability string     `json:"capability"`
	Priority   Priority   `json:"priority"`
	Status     TaskStatus `json:"status"`
	// AwaitingApproval marks a pending task suspended at the approval gate.
	AwaitingApproval bool `json:"awaiting_approval,omitempty"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	QualityScore    *float64 `json:"quality_score,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`

	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Timeout overrides the default per-task deadline when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`

	ActionType string `json:"action_type,omitempty"`
	Target     string `json:"target,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Command    string `json:"command,omitempty"`

	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
}

// NewTask materializes a plan entry as a pending task of the given session.
// Dependencies are left empty; the caller maps plan keys to task IDs.
func NewTask(sessionID string, spec TaskSpec, now time.Time) *Task {
	priority := spec.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		TaskType:   spec.TaskType,
		Capability: spec.Capability,
		Priority:   priority,
		Status:     TaskStatusPending,
		Input:      spec.Input,
		Timeout:    spec.Timeout,
		ActionType: spec.ActionType,
		Target:     spec.Target,
		ToolName:   spec.ToolName,
		Command:    spec.Command,
		CreatedAt:  now,
	}
}

func (t *Task) transitionError(to TaskStatus) error {
	return fmt.Errorf("%w: task %s from %s to %s", ErrInvalidTransition, t.ID, t.Status, to)
}

// Start moves a pending task to processing.
func (t *Task) Start(now time.Time) error {
	if t.Status != TaskStatusPending {
		return t.transitionError(TaskStatusProcessing)
	}
	t.Status = TaskStatusProcessing
	t.AwaitingApproval = false
	t.StartedAt = &now
	return nil
}

// Complete records a worker result on a processing task.
func (t *Task) Complete(output map[string]any, quality, confidence *float64, now time.Time) error {
	if t.Status != TaskStatusProcessing {
		return t.transitionError(TaskStatusCompleted)
	}
	t.Status = TaskStatusCompleted
	t.Output = output
	t.QualityScore = quality
	t.ConfidenceScore = confidence
	t.finish(now)
	return nil
}

// Fail marks a pending or processing task as failed.
func (t *Task) Fail(kind ErrorKind, msg string, now time.Time) error {
	if t.Status.Terminal() {
		return t.transitionError(TaskStatusFailed)
	}
	t.Status = TaskStatusFailed
	t.ErrorKind = kind
	t.Error = msg
	t.finish(now)
	return nil
}

// Cancel marks a pending or processing task as cancelled.
func (t *Task) Cancel(kind ErrorKind, msg string, now time.Time) error {
	if t.Status.Terminal() {
		return t.transitionError(TaskStatusCancelled)
	}
	if kind == ErrorKindNone {
		kind = ErrorKindCancelled
	}
	t.Status = TaskStatusCancelled
	t.ErrorKind = kind
	t.Error = msg
	t.finish(now)
	return nil
}

func (t *Task) finish(now time.Time) {
	t.AwaitingApproval = false
	t.CompletedAt = &now
	if t.StartedAt != nil {
		t.ProcessingTime = now.Sub(*t.StartedAt)
	}
}

// Clone returns a copy safe to hand to another goroutine. Input and Output
// maps are shared; they are treated as immutable once set.
func (t *Task) Clone() *Task {
	c := *t
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &c
}
