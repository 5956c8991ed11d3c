// Package orchestrator runs sessions: it plans a requirement into tasks and
// drives every task through risk assessment, approval, dispatch and quality
// scoring.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/internal/correlation"
	"github.com/ShayCichocki/warden/internal/decompose"
	"github.com/ShayCichocki/warden/internal/graph"
	"github.com/ShayCichocki/warden/internal/orchestrator/policy"
	"github.com/ShayCichocki/warden/internal/quality"
	"github.com/ShayCichocki/warden/internal/risk"
	"github.com/ShayCichocki/warden/internal/state"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Orchestrator coordinates sessions. One Orchestrator can run many sessions
// concurrently; they share the dispatcher, the risk rules and the gate.
type Orchestrator struct {
	decomposer decompose.Decomposer
	dispatcher Dispatcher
	risk       RiskAssessor
	gate       *approval.Gate

	policy  *policy.Config
	store   state.SessionStore
	logger  *DebugLogger
	metrics *Metrics
	now     func() time.Time

	emitter *EventEmitter
}

// New creates an Orchestrator with the required dependencies and optional
// configuration.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if req.Decomposer == nil {
		errs = append(errs, errors.New("decomposer is required"))
	}
	if req.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if req.Risk == nil {
		errs = append(errs, errors.New("risk assessor is required"))
	}
	if req.Gate == nil {
		errs = append(errs, errors.New("approval gate is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.policyConfig == nil {
		o.policyConfig = policy.Default()
	}
	if err := o.policyConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	orch := &Orchestrator{
		decomposer: req.Decomposer,
		dispatcher: req.Dispatcher,
		risk:       req.Risk,
		gate:       req.Gate,
		policy:     o.policyConfig,
		store:      o.store,
		logger:     o.logger,
		metrics:    o.metrics,
		now:        o.clock,
		emitter:    NewEventEmitter(o.policyConfig.EventBuffer),
	}
	orch.metrics.trackEmitter(orch.emitter)
	return orch, nil
}

// Events returns a channel for receiving orchestrator events.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	return o.emitter.Events()
}

// DroppedEvents returns how many events were dropped on a full channel.
func (o *Orchestrator) DroppedEvents() uint64 {
	return o.emitter.DroppedCount()
}

// Close closes the events channel. Sessions still running keep going but
// their events are discarded.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

// outcome is what a task goroutine hands back to the session loop.
type outcome struct {
	task *models.Task
	// approval is the decided request, nil when the task was not gated.
	approval *models.ApprovalRequest
}

// Orchestrate plans the session's requirement and runs every task to a
// terminal status. Task failures are reported in the Result; a non-nil error
// means the session could not be run or finalized. When ctx is cancelled the
// session is finalized as failed and both the Result and ctx's error are
// returned.
func (o *Orchestrator) Orchestrate(ctx context.Context, session *models.Session) (*Result, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if len(session.Tasks) > 0 {
		return nil, fmt.Errorf("%w: session %s has %d tasks", ErrSessionHasTasks, session.ID, len(session.Tasks))
	}
	if err := session.Transition(models.SessionStatusAnalyzing, o.now()); err != nil {
		return nil, err
	}
	o.metrics.SessionStarted()
	o.logger.Log("session %s: analyzing %q", session.ID, session.Requirement)
	o.saveSession(ctx, session)

	specs, err := o.decomposer.Plan(ctx, session.Requirement)
	if err == nil {
		err = decompose.Validate(specs)
	}
	if err != nil {
		return o.abort(ctx, session, fmt.Errorf("%w: %w", ErrDecomposition, err))
	}
	tasks, err := decompose.Materialize(session.ID, specs, o.now())
	if err != nil {
		return o.abort(ctx, session, fmt.Errorf("%w: %w", ErrDecomposition, err))
	}
	g := graph.New()
	g.SetDebugLog(o.logger.Func())
	if err := g.Build(tasks); err != nil {
		return o.abort(ctx, session, fmt.Errorf("%w: %w", ErrDecomposition, err))
	}
	agg, err := quality.New(quality.Config{
		Threshold:      o.policy.QualityThreshold,
		MinTaskQuality: o.policy.MinTaskQuality,
	})
	if err != nil {
		return o.abort(ctx, session, err)
	}

	for _, t := range tasks {
		session.AddTask(t)
		o.saveTask(ctx, t)
	}
	o.saveSession(ctx, session)
	order, _ := g.TopologicalSort()
	o.logger.Log("session %s: planned %d tasks, order %v", session.ID, len(tasks), order)

	approvals := o.run(ctx, session, g, agg)
	return o.finalize(ctx, session, agg, approvals)
}

// run executes the graph until no task can make progress and returns the
// decided approval of every gated task.
func (o *Orchestrator) run(ctx context.Context, session *models.Session, g *graph.DependencyGraph, agg *quality.Aggregator) map[string]*models.ApprovalRequest {
	byID := make(map[string]*models.Task, len(session.Tasks))
	for _, t := range session.Tasks {
		byID[t.ID] = t
	}
	approvals := make(map[string]*models.ApprovalRequest)

	// Task goroutines run on a context whose cause names the session
	// cancellation, which the gate records on pending requests.
	runCtx, cancelRun := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelRun(nil)
	stop := context.AfterFunc(ctx, func() { cancelRun(ErrCancelled) })
	defer stop()

	limit := o.policy.Concurrency()
	results := make(chan outcome, limit)
	running := 0

	for {
		for blocked := g.Blocked(); len(blocked) > 0; blocked = g.Blocked() {
			for _, id := range blocked {
				t := byID[id]
				_ = t.Cancel(models.ErrorKindDependencyFailed, "a dependency did not complete", o.now())
				g.MarkFailed(id)
				o.finishTask(ctx, session, agg, t)
			}
		}

		if runCtx.Err() == nil {
			for _, id := range g.Ready() {
				if running >= limit {
					break
				}
				t := byID[id]
				g.MarkRunning(id)
				running++
				o.emit(OrchestratorEvent{
					Type:      EventTaskQueued,
					SessionID: session.ID,
					TaskID:    t.ID,
					TaskType:  t.TaskType,
					Status:    string(t.Status),
				})
				go func(t *models.Task) {
					results <- outcome{task: t, approval: o.runTask(runCtx, t)}
				}(t)
			}
		}

		if running == 0 {
			break
		}

		res := <-results
		running--
		t := res.task
		if res.approval != nil {
			approvals[t.ID] = res.approval
		}
		if kind, _ := o.verdict(agg, t); kind == models.ErrorKindNone {
			g.MarkComplete(t.ID)
		} else {
			g.MarkFailed(t.ID)
			if deps := g.GetDependents(t.ID); len(deps) > 0 {
				o.logger.Log("task %s %s: blocks dependents %v", t.ID, kind, deps)
			}
		}
		o.finishTask(ctx, session, agg, t)
	}

	for _, id := range g.Waiting() {
		t := byID[id]
		_ = t.Cancel(models.ErrorKindCancelled, ErrCancelled.Error(), o.now())
		g.MarkFailed(id)
		o.finishTask(ctx, session, agg, t)
	}
	return approvals
}

// runTask drives one task to a terminal status. It owns the task until it
// returns.
func (o *Orchestrator) runTask(ctx context.Context, t *models.Task) *models.ApprovalRequest {
	a, err := o.risk.Assess(t)
	if err != nil {
		_ = t.Fail(models.ErrorKindRiskEvaluation, err.Error(), o.now())
		return nil
	}
	o.metrics.ObserveRisk(a.Score)
	o.logger.Log("task %s: risk %.2f %v", t.ID, a.Score, a.Factors)

	var decided *models.ApprovalRequest
	if a.Score >= o.policy.RiskGateThreshold {
		decided = o.awaitApproval(ctx, t, a)
		if t.Status.Terminal() {
			return decided
		}
	}

	_, err = o.dispatcher.Dispatch(ctx, t, correlation.OnStart(func(e correlation.Entry) {
		o.saveTask(ctx, t)
		o.emit(OrchestratorEvent{
			Type:      EventTaskStarted,
			SessionID: t.SessionID,
			TaskID:    t.ID,
			TaskType:  t.TaskType,
			AgentID:   e.AgentID,
			Status:    string(t.Status),
		})
	}))
	if err != nil {
		o.logger.Log("task %s: dispatch: %v", t.ID, err)
		if !t.Status.Terminal() {
			_ = t.Fail(models.ErrorKindInternal, err.Error(), o.now())
		}
	}
	return decided
}

// awaitApproval suspends the task until its approval request is decided.
// The task is left pending when approved and terminal otherwise.
func (o *Orchestrator) awaitApproval(ctx context.Context, t *models.Task, a risk.Assessment) *models.ApprovalRequest {
	var opts []approval.CreateOption
	if conds := o.risk.Conditions(a); len(conds) > 0 {
		opts = append(opts, approval.WithConditions(conds...))
	}
	req, err := o.gate.Create(ctx, t, a, o.risk.RequiredRole(a), opts...)
	if err != nil {
		_ = t.Fail(models.ErrorKindInternal, err.Error(), o.now())
		return nil
	}
	o.metrics.IncApproval(string(models.ApprovalStatusPending))
	o.saveTask(ctx, t)
	o.emit(OrchestratorEvent{
		Type:       EventTaskAwaitingApproval,
		SessionID:  t.SessionID,
		TaskID:     t.ID,
		TaskType:   t.TaskType,
		ApprovalID: req.ID,
		Status:     string(t.Status),
		Message:    fmt.Sprintf("risk %.2f requires %s approval", req.RiskScore, req.RequiredApproverRole),
	})

	decided, err := o.gate.Wait(ctx, req.ID)
	if err != nil {
		if ctx.Err() != nil {
			o.metrics.IncApproval(string(models.ApprovalStatusExpired))
			_ = t.Cancel(models.ErrorKindCancelled, "cancelled while awaiting approval", o.now())
			return nil
		}
		_ = t.Fail(models.ErrorKindInternal, err.Error(), o.now())
		return nil
	}
	o.metrics.IncApproval(string(decided.Status))

	switch decided.Status {
	case models.ApprovalStatusApproved:
		t.AwaitingApproval = false
	case models.ApprovalStatusDenied:
		msg := "denied by " + decided.ApproverID
		if decided.DenialReason != "" {
			msg += ": " + decided.DenialReason
		}
		_ = t.Fail(models.ErrorKindApprovalDenied, msg, o.now())
	default:
		_ = t.Fail(models.ErrorKindApprovalExpired,
			fmt.Sprintf("approval %s expired at %s", decided.ID, decided.TimeoutAt.UTC().Format(time.RFC3339)), o.now())
	}
	return decided
}

// finishTask records a terminal task. Only the session loop calls it.
func (o *Orchestrator) finishTask(ctx context.Context, session *models.Session, agg *quality.Aggregator, t *models.Task) {
	agg.Record(t)
	session.Touch()
	o.saveTask(ctx, t)
	kind, msg := o.verdict(agg, t)
	o.metrics.ObserveTask(t.TaskType, string(t.Status), string(kind), t.ProcessingTime)

	ev := OrchestratorEvent{
		SessionID: session.ID,
		TaskID:    t.ID,
		TaskType:  t.TaskType,
		Status:    string(t.Status),
		ErrorKind: kind,
		Message:   msg,
		Duration:  t.ProcessingTime,
	}
	if kind == models.ErrorKindNone {
		ev.Type = EventTaskCompleted
	} else {
		ev.Type = EventTaskFailed
	}
	o.emit(ev)
	o.logger.Log("task %s (%s): %s %s %s", t.ID, t.TaskType, t.Status, kind, msg)
}

// verdict returns why a terminal task does not count as passed, or
// ErrorKindNone when it does. A completed task keeps no error of its own, so
// a result below MinTaskQuality is reported here as low_quality.
func (o *Orchestrator) verdict(agg *quality.Aggregator, t *models.Task) (models.ErrorKind, string) {
	if t.Status != models.TaskStatusCompleted {
		return t.ErrorKind, t.Error
	}
	if !agg.Accept(t) {
		return models.ErrorKindLowQuality, fmt.Sprintf("quality %.2f below minimum %.2f", score(t), o.policy.MinTaskQuality)
	}
	return models.ErrorKindNone, ""
}

// abort fails a session that could not be planned.
func (o *Orchestrator) abort(ctx context.Context, session *models.Session, cause error) (*Result, error) {
	log.Printf("[orchestrator] session %s: %v", session.ID, cause)
	_ = session.Transition(models.SessionStatusFailed, o.now())
	o.saveSession(ctx, session)
	o.metrics.SessionFinished(string(session.Status), 0)
	o.emit(OrchestratorEvent{
		Type:      EventSessionDone,
		SessionID: session.ID,
		Status:    string(session.Status),
		Message:   cause.Error(),
	})
	return nil, cause
}

func (o *Orchestrator) emit(ev OrchestratorEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now()
	}
	o.emitter.Emit(ev)
}

// saveSession writes through to the store. Failures are logged; cancelled
// contexts still persist so the final state is not lost.
func (o *Orchestrator) saveSession(ctx context.Context, s *models.Session) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveSession(context.WithoutCancel(ctx), s); err != nil {
		log.Printf("[orchestrator] WARNING: persist session %s: %v", s.ID, err)
	}
}

func (o *Orchestrator) saveTask(ctx context.Context, t *models.Task) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTask(context.WithoutCancel(ctx), t); err != nil {
		log.Printf("[orchestrator] WARNING: persist task %s: %v", t.ID, err)
	}
}

func score(t *models.Task) float64 {
	if t.QualityScore == nil {
		return 0
	}
	return *t.QualityScore
}
