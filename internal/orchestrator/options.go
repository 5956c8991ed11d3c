package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/internal/correlation"
	"github.com/ShayCichocki/warden/internal/decompose"
	"github.com/ShayCichocki/warden/internal/orchestrator/policy"
	"github.com/ShayCichocki/warden/internal/risk"
	"github.com/ShayCichocki/warden/internal/state"
	"github.com/ShayCichocki/warden/internal/transport"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Dispatcher sends a task to a worker and records the outcome on it.
// *correlation.Manager implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.Task, opts ...correlation.DispatchOption) (*transport.TaskResult, error)
}

// RiskAssessor scores tasks and maps scores to approver roles and the
// conditions an approver must accept. *risk.Evaluator implements it.
type RiskAssessor interface {
	Assess(task *models.Task) (risk.Assessment, error)
	RequiredRole(a risk.Assessment) string
	Conditions(a risk.Assessment) []string
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	Decomposer decompose.Decomposer
	Dispatcher Dispatcher
	Risk       RiskAssessor
	Gate       *approval.Gate
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	policyConfig *policy.Config
	store        state.SessionStore
	logger       *DebugLogger
	metrics      *Metrics
	clock        func() time.Time
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policyConfig = p }
}

// WithStore persists every session and task transition.
func WithStore(s state.SessionStore) Option {
	return func(o *orchestratorOptions) { o.store = s }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithClock overrides the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) { o.clock = now }
}
