// Package transport delivers tasks to worker agents and returns their results.
// Implementations never retry; retry policy belongs to the correlation manager.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// Request is one delivery attempt of a task to a resolved worker.
type Request struct {
	Agent         models.AgentDescriptor
	Task          *models.Task
	CorrelationID string
	Deadline      time.Time
}

// TaskResult is a worker's answer to a task.
type TaskResult struct {
	TaskID          string         `json:"task_id"`
	CorrelationID   string         `json:"correlation_id"`
	AgentID         string         `json:"agent_id,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	QualityScore    *float64       `json:"quality_score,omitempty"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
}

// Transport sends a task to a worker and waits for its result.
// Errors are *Error values classified as transient or permanent.
type Transport interface {
	Send(ctx context.Context, req Request) (*TaskResult, error)
}

// Canceler is implemented by transports that can tell a worker to abandon
// an in-flight task. Notification is best effort.
type Canceler interface {
	Cancel(ctx context.Context, agent models.AgentDescriptor, correlationID string) error
}

// Pinger is implemented by transports that can check worker liveness.
type Pinger interface {
	Ping(ctx context.Context, agent models.AgentDescriptor) error
}

// HandlerFunc executes a task inside a worker.
type HandlerFunc func(ctx context.Context, task *models.Task) (*TaskResult, error)

// Kind classifies a transport failure.
type Kind int

const (
	// Transient failures are network or timeout class and may be retried.
	Transient Kind = iota + 1
	// Permanent failures mean the worker rejected the request.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every Transport.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(op string, err error) *Error {
	return &Error{Kind: Permanent, Op: op, Err: err}
}

// IsPermanent reports whether err is a permanent transport failure.
// Unclassified errors are not permanent.
func IsPermanent(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == Permanent
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// explicitlyTransient reports whether a handler marked err as retryable.
// Handler errors default to permanent rejections.
func explicitlyTransient(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == Transient
}
