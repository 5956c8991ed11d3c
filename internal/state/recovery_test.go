package state

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/internal/risk"
	"github.com/ShayCichocki/warden/pkg/models"
)

func riskAssessment() risk.Assessment {
	return risk.Assessment{Score: 0.9, Factors: []string{"destructive command: rm"}}
}

func TestIsProcessAlive(t *testing.T) {
	if isProcessAlive(0) || isProcessAlive(-1) {
		t.Error("non-positive pids are never alive")
	}
}

func TestRecoverInterrupted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := newStoredSession(t, db, 3)
	if err := s.Transition(models.SessionStatusAnalyzing, now); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	processing, awaiting := s.Tasks[0], s.Tasks[1]
	if err := processing.Start(now); err != nil {
		t.Fatal(err)
	}
	awaiting.AwaitingApproval = true
	for _, task := range []*models.Task{processing, awaiting} {
		if err := db.SaveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	req := newApproval(awaiting, now.Add(time.Hour))
	if err := db.CreateApproval(ctx, req); err != nil {
		t.Fatal(err)
	}

	finished := newStoredSession(t, db, 0)
	if err := finished.Transition(models.SessionStatusCompleted, now); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSession(ctx, finished); err != nil {
		t.Fatal(err)
	}

	report, err := db.RecoverInterrupted(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if len(report.Sessions) != 1 || report.Sessions[0] != s.ID {
		t.Errorf("recovered sessions = %v", report.Sessions)
	}
	if report.TimedOutTasks != 1 || report.CancelledTasks != 2 || report.ExpiredApprovals != 1 {
		t.Errorf("report = %+v", report)
	}

	got, err := db.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionStatusFailed || got.CompletedAt == nil {
		t.Errorf("session = %s", got.Status)
	}
	if got.Tasks[0].Status != models.TaskStatusFailed || got.Tasks[0].ErrorKind != models.ErrorKindTimeout {
		t.Errorf("processing task = %s/%s", got.Tasks[0].Status, got.Tasks[0].ErrorKind)
	}
	if got.Tasks[1].Status != models.TaskStatusCancelled || got.Tasks[1].AwaitingApproval {
		t.Errorf("awaiting task = %s awaiting=%v", got.Tasks[1].Status, got.Tasks[1].AwaitingApproval)
	}

	approvalReq, err := db.GetApproval(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if approvalReq.Status != models.ApprovalStatusExpired {
		t.Errorf("approval = %s", approvalReq.Status)
	}

	again, err := db.RecoverInterrupted(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !again.Empty() {
		t.Errorf("second recovery should be a no-op, got %+v", again)
	}
}

// liveSet fails every processing task not in live, like a correlation
// manager with those tasks in flight.
type liveSet map[string]bool

func (l liveSet) Recover(tasks []*models.Task, now time.Time) []*models.Task {
	var out []*models.Task
	for _, t := range tasks {
		if t.Status == models.TaskStatusProcessing && !l[t.ID] {
			if err := t.Fail(models.ErrorKindTimeout, "no in-flight dispatch", now); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func TestRecoverInterrupted_WithInFlight(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := newStoredSession(t, db, 2)
	if err := s.Transition(models.SessionStatusAnalyzing, now); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	live := s.Tasks[0]
	if err := live.Start(now); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveTask(ctx, live); err != nil {
		t.Fatal(err)
	}

	report, err := db.RecoverInterrupted(ctx, now.Add(time.Minute), WithInFlight(liveSet{live.ID: true}))
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if !report.Empty() {
		t.Errorf("session with a live dispatch should be left alone, got %+v", report)
	}

	report, err = db.RecoverInterrupted(ctx, now.Add(time.Minute), WithInFlight(liveSet{}))
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if report.TimedOutTasks != 1 || report.CancelledTasks != 1 {
		t.Errorf("report = %+v", report)
	}
	got, err := db.GetTask(ctx, live.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusFailed || got.ErrorKind != models.ErrorKindTimeout {
		t.Errorf("task = %s/%s", got.Status, got.ErrorKind)
	}
}
