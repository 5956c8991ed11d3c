package transport

import (
	"encoding/json"

	"github.com/ShayCichocki/warden/pkg/models"
)

// Envelope wraps all websocket messages with a type discriminator.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// is decoded based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload.
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Orchestrator -> worker messages

// TaskMessage assigns a task to a worker.
type TaskMessage struct {
	CorrelationID string      `json:"correlation_id"`
	Task          models.Task `json:"task"`
	// DeadlineUnixMs is the absolute deadline in Unix milliseconds.
	DeadlineUnixMs int64 `json:"deadline_unix_ms"`
}

// CancelMessage asks a worker to abandon a task.
type CancelMessage struct {
	CorrelationID string `json:"correlation_id"`
}

// Worker -> orchestrator messages

// ResultMessage carries a task result.
type ResultMessage struct {
	CorrelationID   string         `json:"correlation_id"`
	TaskID          string         `json:"task_id"`
	AgentID         string         `json:"agent_id,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	QualityScore    *float64       `json:"quality_score,omitempty"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
}

// ErrorMessage reports that a task could not be executed.
type ErrorMessage struct {
	CorrelationID string `json:"correlation_id"`
	Message       string `json:"message"`
	// Permanent is set when retrying the same request cannot succeed.
	Permanent bool `json:"permanent"`
}

// Message type constants
const (
	TypeTask   = "task"
	TypeResult = "result"
	TypeError  = "error"
	TypeCancel = "cancel"
	TypePing   = "ping"
	TypePong   = "pong"
)
