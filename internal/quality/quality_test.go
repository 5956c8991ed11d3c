package quality

import (
	"math"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

func completedTask(id string, q *float64) *models.Task {
	now := time.Now()
	t := &models.Task{ID: id, Status: models.TaskStatusPending}
	_ = t.Start(now)
	_ = t.Complete(nil, q, nil, now)
	return t
}

func failedTask(id string, kind models.ErrorKind) *models.Task {
	t := &models.Task{ID: id, Status: models.TaskStatusPending}
	_ = t.Fail(kind, "failed", time.Now())
	return t
}

func ptr(v float64) *float64 { return &v }

func newAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestOverall_MeanOfCompleted(t *testing.T) {
	a := newAggregator(t, DefaultConfig())
	a.Record(completedTask("a", ptr(0.9)))
	a.Record(completedTask("b", ptr(0.8)))
	a.Record(completedTask("c", ptr(0.85)))

	if got := a.Overall(); math.Abs(got-0.85) > 1e-9 {
		t.Errorf("expected overall 0.85, got %v", got)
	}
	if !a.Passed() {
		t.Error("expected session to pass the quality gate")
	}
}

func TestOverall_FailureCapsBelowThreshold(t *testing.T) {
	a := newAggregator(t, DefaultConfig())
	a.Record(completedTask("a", ptr(1.0)))
	a.Record(completedTask("b", ptr(0.95)))
	a.Record(failedTask("c", models.ErrorKindApprovalDenied))

	got := a.Overall()
	if got >= 0.7 {
		t.Errorf("expected overall below threshold, got %v", got)
	}
	if got < 0.69 {
		t.Errorf("expected cap just below threshold, got %v", got)
	}
	if a.Passed() {
		t.Error("expected session to fail the quality gate")
	}
}

func TestOverall_LowMeanNotRaisedByCap(t *testing.T) {
	a := newAggregator(t, DefaultConfig())
	a.Record(completedTask("a", ptr(0.2)))
	a.Record(failedTask("b", models.ErrorKindTimeout))
	if got := a.Overall(); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("expected 0.2, got %v", got)
	}
}

func TestOverall_ZeroThresholdCap(t *testing.T) {
	a := newAggregator(t, Config{Threshold: 0})
	a.Record(completedTask("a", ptr(0.5)))
	a.Record(failedTask("b", models.ErrorKindTimeout))
	if got := a.Overall(); got != 0 {
		t.Errorf("expected cap at 0, got %v", got)
	}
	if a.Passed() {
		t.Error("a failed task must fail the session")
	}
}

func TestRecord_MissingScoreCountsAsZero(t *testing.T) {
	a := newAggregator(t, DefaultConfig())
	a.Record(completedTask("a", ptr(0.9)))
	a.Record(completedTask("b", nil))
	if got := a.Overall(); math.Abs(got-0.45) > 1e-9 {
		t.Errorf("expected 0.45, got %v", got)
	}
}

func TestRecord_Idempotent(t *testing.T) {
	a := newAggregator(t, DefaultConfig())
	task := completedTask("a", ptr(0.9))
	a.Record(task)
	a.Record(task)
	a.Record(&models.Task{ID: "pending", Status: models.TaskStatusPending})
	s := a.Snapshot()
	if s.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", s.Completed)
	}
}

func TestRecord_BelowMinTaskQualityIsRejected(t *testing.T) {
	a := newAggregator(t, Config{Threshold: 0.7, MinTaskQuality: 0.5})
	low := completedTask("low", ptr(0.3))
	if a.Accept(low) {
		t.Error("expected low result to be rejected")
	}
	a.Record(low)
	a.Record(completedTask("ok", ptr(0.9)))

	s := a.Snapshot()
	if s.Rejected != 1 || s.Completed != 1 {
		t.Errorf("unexpected snapshot %+v", s)
	}
	if a.Passed() {
		t.Error("expected rejection to fail the session")
	}
}

func TestConfig_Validate(t *testing.T) {
	if _, err := New(Config{Threshold: 1.2}); err == nil {
		t.Error("expected error for threshold above 1")
	}
	if _, err := New(Config{Threshold: 0.5, MinTaskQuality: -0.1}); err == nil {
		t.Error("expected error for negative min task quality")
	}
}
