// Package approval implements the human approval checkpoint for risky tasks.
//
// A request moves from pending to exactly one of approved, denied or
// expired. Decisions are compare-and-swap writes in the Store, so concurrent
// approvers cannot both succeed. Waiting callers are woken by a decision, by
// expiry, or by a periodic recheck of the store when another process decides.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/warden/internal/risk"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Config holds approval gate settings.
type Config struct {
	// Window is the time from creation until a request expires.
	Window time.Duration
	// SweepInterval is how often the sweeper expires due requests.
	SweepInterval time.Duration
	// PollInterval is how often a waiter rechecks the store for decisions
	// made by other processes. Zero disables polling.
	PollInterval time.Duration
	// DefaultRole is used when no approver role is selected.
	DefaultRole string
}

// DefaultConfig returns the default gate settings.
func DefaultConfig() Config {
	return Config{
		Window:        2 * time.Hour,
		SweepInterval: 30 * time.Second,
		PollInterval:  2 * time.Second,
		DefaultRole:   "operator",
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("approval window must be positive, got %v", c.Window))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("sweep interval must be at least 1s, got %v", c.SweepInterval))
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll interval must not be negative, got %v", c.PollInterval))
	}
	if c.DefaultRole == "" {
		errs = append(errs, errors.New("default approver role is required"))
	}
	return errors.Join(errs...)
}

// Decision is a human verdict on a request.
type Decision struct {
	ApprovalID         string
	ApproverID         string
	Outcome            models.Outcome
	Reason             string
	ConditionsAccepted bool
}

// Gate drives approval requests through their state machine.
type Gate struct {
	cfg   Config
	store Store
	now   func() time.Time

	mu      sync.Mutex
	signals map[string]chan struct{}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate creates a gate backed by store.
func NewGate(cfg Config, store Store, opts ...GateOption) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid approval config: %w", err)
	}
	if store == nil {
		return nil, errors.New("approval store is required")
	}
	g := &Gate{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		signals: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the gate settings.
func (g *Gate) Config() Config {
	return g.cfg
}

// CreateOption adjusts a request at creation.
type CreateOption func(*models.ApprovalRequest)

// WithTimeout overrides the expiry window for one request.
func WithTimeout(d time.Duration) CreateOption {
	return func(r *models.ApprovalRequest) {
		r.TimeoutAt = r.CreatedAt.Add(d)
	}
}

// WithConditions sets conditions the approver must accept.
func WithConditions(conditions ...string) CreateOption {
	return func(r *models.ApprovalRequest) {
		r.ApprovalConditions = append([]string(nil), conditions...)
	}
}

// Create opens a pending request for the task and marks the task as
// awaiting approval. An empty role falls back to the configured default.
func (g *Gate) Create(ctx context.Context, task *models.Task, a risk.Assessment, role string, opts ...CreateOption) (*models.ApprovalRequest, error) {
	if role == "" {
		role = g.cfg.DefaultRole
	}
	now := g.now()
	req := &models.ApprovalRequest{
		ID:                   uuid.New().String(),
		TaskID:               task.ID,
		SessionID:            task.SessionID,
		ActionType:           task.ActionType,
		Target:               task.Target,
		ToolName:             task.ToolName,
		Command:              task.Command,
		RiskScore:            a.Score,
		RiskFactors:          append([]string(nil), a.Factors...),
		RequiredApproverRole: role,
		Status:               models.ApprovalStatusPending,
		TimeoutAt:            now.Add(g.cfg.Window),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for _, opt := range opts {
		opt(req)
	}
	req.Audit = []models.AuditEntry{{
		At:     now,
		Actor:  "system",
		Action: "created",
		Detail: fmt.Sprintf("risk %.2f, role %s, expires %s", req.RiskScore, role, req.TimeoutAt.UTC().Format(time.RFC3339)),
	}}

	if err := g.store.CreateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval for task %s: %w", task.ID, err)
	}
	task.AwaitingApproval = true
	return req.Clone(), nil
}

// Decide applies an approver's verdict. It returns ErrExpired, after
// recording the expiry, if the request timed out first. A denial must carry
// a reason.
func (g *Gate) Decide(ctx context.Context, d Decision) (*models.ApprovalRequest, error) {
	if d.ApprovalID == "" || d.ApproverID == "" {
		return nil, fmt.Errorf("%w: approval id and approver id are required", ErrInvalidDecision)
	}

	var status models.ApprovalStatus
	switch d.Outcome {
	case models.OutcomeApprove:
		status = models.ApprovalStatusApproved
	case models.OutcomeDeny:
		status = models.ApprovalStatusDenied
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidDecision, d.Outcome)
	}

	if status == models.ApprovalStatusDenied && strings.TrimSpace(d.Reason) == "" {
		return nil, fmt.Errorf("%w: a denial requires a reason", ErrInvalidDecision)
	}

	req, err := g.store.GetApproval(ctx, d.ApprovalID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if req.Status == models.ApprovalStatusPending {
		if !now.Before(req.TimeoutAt) {
			if _, err := g.expire(ctx, d.ApprovalID, now, "expired before decision by "+d.ApproverID); err != nil {
				return nil, err
			}
			return nil, ErrExpired
		}
		if status == models.ApprovalStatusApproved && len(req.ApprovalConditions) > 0 && !d.ConditionsAccepted {
			return nil, ErrConditionsNotAccepted
		}
	}

	rec := DecisionRecord{
		ID:                 d.ApprovalID,
		ApproverID:         d.ApproverID,
		Status:             status,
		ConditionsAccepted: d.ConditionsAccepted,
		At:                 now,
	}
	if status == models.ApprovalStatusDenied {
		rec.DenialReason = d.Reason
	}

	if _, err := g.store.DecideApproval(ctx, rec); err != nil {
		if errors.Is(err, ErrExpired) {
			if _, xerr := g.expire(ctx, d.ApprovalID, now, "expired before decision by "+d.ApproverID); xerr != nil {
				log.Printf("[approval] expire %s: %v", d.ApprovalID, xerr)
			}
		}
		return nil, err
	}

	g.audit(ctx, d.ApprovalID, models.AuditEntry{At: now, Actor: d.ApproverID, Action: string(status), Detail: d.Reason})
	g.notify(d.ApprovalID)
	return g.store.GetApproval(ctx, d.ApprovalID)
}

// Cancel resolves a pending request as expired ahead of its deadline, for
// example when the owning session is cancelled. Terminal requests are left
// unchanged.
func (g *Gate) Cancel(ctx context.Context, id, reason string) error {
	_, err := g.expire(ctx, id, g.now(), "cancelled: "+reason)
	return err
}

// ExpireDue expires every pending request whose deadline has passed and
// returns how many this call transitioned.
func (g *Gate) ExpireDue(ctx context.Context) (int, error) {
	now := g.now()
	due, err := g.store.ListApprovals(ctx, models.ApprovalFilter{
		Statuses:  []models.ApprovalStatus{models.ApprovalStatusPending},
		DueBefore: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("list due approvals: %w", err)
	}
	n := 0
	for _, req := range due {
		ok, err := g.expire(ctx, req.ID, now, "timed out")
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Get returns a request, expiring it first if its deadline has passed.
func (g *Gate) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	req, err := g.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == models.ApprovalStatusPending && !g.now().Before(req.TimeoutAt) {
		if _, err := g.expire(ctx, id, g.now(), "timed out"); err != nil {
			return nil, err
		}
		return g.store.GetApproval(ctx, id)
	}
	return req, nil
}

// ListPending expires due requests and then lists matching requests. With no
// status filter it returns pending and expired requests.
func (g *Gate) ListPending(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	if _, err := g.ExpireDue(ctx); err != nil {
		return nil, err
	}
	if len(filter.Statuses) == 0 {
		filter.Statuses = []models.ApprovalStatus{models.ApprovalStatusPending, models.ApprovalStatusExpired}
	}
	return g.store.ListApprovals(ctx, filter)
}

// Wait blocks until the request leaves pending and returns it. If ctx ends
// first the request is cancelled, with the context cause as reason, so it
// never stays pending.
func (g *Gate) Wait(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var poll <-chan time.Time
	if g.cfg.PollInterval > 0 {
		ticker := time.NewTicker(g.cfg.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	var signal <-chan struct{}
	defer func() { g.unsignal(id, signal) }()

	for {
		signal = g.signal(id)

		req, err := g.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Status.Terminal() {
			return req, nil
		}

		timer := time.NewTimer(req.TimeoutAt.Sub(g.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			if err := g.Cancel(context.WithoutCancel(ctx), id, context.Cause(ctx).Error()); err != nil {
				log.Printf("[approval] cancel %s: %v", id, err)
			}
			return nil, ctx.Err()
		case <-signal:
		case <-timer.C:
		case <-poll:
		}
		timer.Stop()
	}
}

func (g *Gate) expire(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	ok, err := g.store.ExpireApproval(ctx, id, at, reason)
	if err != nil {
		return false, err
	}
	if ok {
		g.audit(ctx, id, models.AuditEntry{At: at, Actor: "system", Action: string(models.ApprovalStatusExpired), Detail: reason})
		g.notify(id)
	}
	return ok, nil
}

func (g *Gate) audit(ctx context.Context, id string, entry models.AuditEntry) {
	if err := g.store.AppendAudit(ctx, id, entry); err != nil {
		log.Printf("[approval] audit %s %s: %v", id, entry.Action, err)
	}
}

// signal returns the channel closed on the next transition of id.
func (g *Gate) signal(id string) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.signals[id]
	if !ok {
		ch = make(chan struct{})
		g.signals[id] = ch
	}
	return ch
}

// unsignal drops the waiter channel for id unless a newer one replaced it.
func (g *Gate) unsignal(id string, ch <-chan struct{}) {
	if ch == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.signals[id]; ok && cur == ch {
		delete(g.signals, id)
	}
}

func (g *Gate) notify(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.signals[id]; ok {
		close(ch)
		delete(g.signals, id)
	}
}
