// Package correlation dispatches tasks to workers under a per-task deadline,
// tracking each outbound request by correlation id and retrying transient
// transport failures with bounded exponential backoff.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/warden/internal/directory"
	"github.com/ShayCichocki/warden/internal/transport"
	"github.com/ShayCichocki/warden/pkg/models"
)

// ErrTimeout is returned when a task deadline elapses before a result.
var ErrTimeout = fmt.Errorf("task deadline exceeded: %w", models.ErrTimeout)

// cancelNotifyTimeout bounds the best-effort remote cancel.
const cancelNotifyTimeout = 5 * time.Second

// State is the lifecycle state of a correlation entry.
type State string

const (
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Entry tracks one outbound task. The correlation id is reused across retries.
type Entry struct {
	CorrelationID string
	TaskID        string
	AgentID       string
	IssuedAt      time.Time
	Deadline      time.Time
	RetryCount    int
	State         State
}

// Config holds dispatch timing and retry settings.
type Config struct {
	// DefaultTimeout applies when a task does not set its own.
	DefaultTimeout time.Duration
	// MaxAttempts is the total number of sends, including the first.
	MaxAttempts int
	// BackoffBase is the delay before the first retry. It doubles per retry.
	BackoffBase time.Duration
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
}

// DefaultConfig returns the default dispatch settings.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 180 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    1 * time.Second,
		BackoffMax:     30 * time.Second,
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("default timeout must be positive, got %v", c.DefaultTimeout))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("backoff base must not be negative, got %v", c.BackoffBase))
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff max %v is below backoff base %v", c.BackoffMax, c.BackoffBase))
	}
	return errors.Join(errs...)
}

// Backoff returns the delay before the given retry (1 for the first retry).
func (c Config) Backoff(retry int) time.Duration {
	delay := c.BackoffBase
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay > c.BackoffMax {
			return c.BackoffMax
		}
	}
	if delay > c.BackoffMax {
		return c.BackoffMax
	}
	return delay
}

// RetryHook is called before each retry with the entry snapshot and the
// error that triggered it.
type RetryHook func(entry Entry, err error)

// Option configures a Manager.
type Option func(*Manager)

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(h RetryHook) Option {
	return func(m *Manager) {
		m.onRetry = h
	}
}

// DispatchOption adjusts a single Dispatch call.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	onStart func(Entry)
}

// OnStart registers a callback run on the dispatching goroutine right after
// the task moves to processing and its entry is tracked.
func OnStart(fn func(Entry)) DispatchOption {
	return func(o *dispatchOptions) {
		o.onStart = fn
	}
}

// Manager dispatches tasks and owns the in-memory correlation table.
type Manager struct {
	cfg       Config
	resolver  directory.Resolver
	transport transport.Transport

	mu      sync.Mutex
	entries map[string]*Entry

	onRetry RetryHook
}

// New creates a Manager.
func New(cfg Config, resolver directory.Resolver, tr transport.Transport, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correlation config: %w", err)
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	m := &Manager{
		cfg:       cfg,
		resolver:  resolver,
		transport: tr,
		entries:   make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dispatch resolves a worker, sends the task and records the outcome on the
// task. The task must be pending; on return it is terminal. The caller must
// not touch the task concurrently.
func (m *Manager) Dispatch(ctx context.Context, task *models.Task, opts ...DispatchOption) (*transport.TaskResult, error) {
	var do dispatchOptions
	for _, opt := range opts {
		opt(&do)
	}

	capability := task.Capability
	if capability == "" {
		capability = task.TaskType
	}
	agent, err := m.resolver.Resolve(capability)
	if err != nil {
		_ = task.Fail(models.ErrorKindDirectoryResolution, err.Error(), time.Now())
		return nil, fmt.Errorf("resolve worker for task %s: %w", task.ID, err)
	}

	now := time.Now()
	if err := task.Start(now); err != nil {
		return nil, err
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	entry := &Entry{
		CorrelationID: uuid.New().String(),
		TaskID:        task.ID,
		AgentID:       agent.ID,
		IssuedAt:      now,
		Deadline:      now.Add(timeout),
		State:         StateInFlight,
	}
	m.track(entry)
	defer m.untrack(entry.CorrelationID)
	if do.onStart != nil {
		do.onStart(*entry)
	}

	dctx, cancel := context.WithDeadline(ctx, entry.Deadline)
	defer cancel()

	for attempt := 1; ; attempt++ {
		res, err := m.transport.Send(dctx, transport.Request{
			Agent:         *agent,
			Task:          task.Clone(),
			CorrelationID: entry.CorrelationID,
			Deadline:      entry.Deadline,
		})
		if err == nil {
			return m.succeed(task, entry, res)
		}
		if dctx.Err() != nil {
			return nil, m.abort(ctx, task, entry, agent)
		}
		if transport.IsPermanent(err) {
			m.setState(entry, StateFailed)
			_ = task.Fail(models.ErrorKindTransportPermanent, err.Error(), time.Now())
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		if attempt >= m.cfg.MaxAttempts {
			m.setState(entry, StateFailed)
			msg := fmt.Sprintf("giving up after %d attempts: %v", attempt, err)
			_ = task.Fail(models.ErrorKindTransportTransient, msg, time.Now())
			return nil, fmt.Errorf("task %s: %s: %w", task.ID, msg, err)
		}

		delay := m.cfg.Backoff(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-dctx.Done():
			timer.Stop()
			return nil, m.abort(ctx, task, entry, agent)
		case <-timer.C:
		}

		snapshot := m.retry(entry)
		log.Printf("[correlation] retrying task %s (corr %s, retry %d) after %v: %v",
			task.ID, entry.CorrelationID, snapshot.RetryCount, delay, err)
		if m.onRetry != nil {
			m.onRetry(snapshot, err)
		}
	}
}

func (m *Manager) succeed(task *models.Task, entry *Entry, res *transport.TaskResult) (*transport.TaskResult, error) {
	if err := validScore("quality", res.QualityScore); err != nil {
		m.setState(entry, StateFailed)
		_ = task.Fail(models.ErrorKindTransportPermanent, err.Error(), time.Now())
		return nil, fmt.Errorf("task %s: %w", task.ID, transport.NewPermanent("result", err))
	}
	if err := validScore("confidence", res.ConfidenceScore); err != nil {
		m.setState(entry, StateFailed)
		_ = task.Fail(models.ErrorKindTransportPermanent, err.Error(), time.Now())
		return nil, fmt.Errorf("task %s: %w", task.ID, transport.NewPermanent("result", err))
	}
	if err := task.Complete(res.Output, res.QualityScore, res.ConfidenceScore, time.Now()); err != nil {
		m.setState(entry, StateFailed)
		return nil, err
	}
	m.setState(entry, StateSucceeded)
	return res, nil
}

// abort handles a dispatch context that ended, either by parent
// cancellation or by the task deadline.
func (m *Manager) abort(ctx context.Context, task *models.Task, entry *Entry, agent *models.AgentDescriptor) error {
	m.notifyCancel(*agent, entry.CorrelationID)

	if ctx.Err() != nil {
		m.setState(entry, StateFailed)
		_ = task.Cancel(models.ErrorKindCancelled, "dispatch cancelled", time.Now())
		return fmt.Errorf("task %s: %w", task.ID, ctx.Err())
	}

	m.setState(entry, StateTimedOut)
	msg := fmt.Sprintf("no result within %v", entry.Deadline.Sub(entry.IssuedAt))
	_ = task.Fail(models.ErrorKindTimeout, msg, time.Now())
	return fmt.Errorf("task %s: %s: %w", task.ID, msg, ErrTimeout)
}

func (m *Manager) notifyCancel(agent models.AgentDescriptor, corrID string) {
	c, ok := m.transport.(transport.Canceler)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cancelNotifyTimeout)
		defer cancel()
		if err := c.Cancel(ctx, agent, corrID); err != nil {
			log.Printf("[correlation] cancel notify %s: %v", corrID, err)
		}
	}()
}

func validScore(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > 1 {
		return fmt.Errorf("%s score %v outside [0,1]", name, *v)
	}
	return nil
}

func (m *Manager) track(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.CorrelationID] = e
}

func (m *Manager) untrack(corrID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, corrID)
}

func (m *Manager) setState(e *Entry, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.State = s
}

func (m *Manager) retry(e *Entry) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.RetryCount++
	return *e
}

// InFlight returns a snapshot of the correlation table ordered by issue time.
func (m *Manager) InFlight() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// Len returns the number of tracked entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Recover fails every processing task that has no in-flight entry in this
// process, treating it as timed out. It returns the tasks it changed.
func (m *Manager) Recover(tasks []*models.Task, now time.Time) []*models.Task {
	m.mu.Lock()
	live := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		if e.State == StateInFlight {
			live[e.TaskID] = true
		}
	}
	m.mu.Unlock()

	var recovered []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusProcessing || live[t.ID] {
			continue
		}
		if err := t.Fail(models.ErrorKindTimeout, "no in-flight dispatch found on recovery", now); err == nil {
			recovered = append(recovered, t)
		}
	}
	return recovered
}
