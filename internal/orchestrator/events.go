package orchestrator

import (
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskQueued indicates a task is ready and about to be assessed.
	EventTaskQueued EventType = "task_queued"
	// EventTaskAwaitingApproval indicates a task is suspended at the approval gate.
	EventTaskAwaitingApproval EventType = "task_awaiting_approval"
	// EventTaskStarted indicates a task was sent to a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed or was cancelled.
	EventTaskFailed EventType = "task_failed"
	// EventSessionDone indicates the entire session is complete.
	EventSessionDone EventType = "session_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events are used to report progress to the CLI.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// SessionID is the session the event belongs to.
	SessionID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskType is the type of the related task, if applicable.
	TaskType string
	// AgentID is the worker handling the task, if known.
	AgentID string
	// ApprovalID is set on approval events.
	ApprovalID string
	// Status is the task or session status after the event.
	Status string
	// ErrorKind classifies failure events.
	ErrorKind models.ErrorKind
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the task processing time, or the session run time.
	Duration time.Duration
}
