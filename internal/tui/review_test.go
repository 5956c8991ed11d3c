package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/pkg/models"
)

type fakeReviewer struct {
	mu        sync.Mutex
	requests  []*models.ApprovalRequest
	decisions []approval.Decision
	listErr   error
}

func (f *fakeReviewer) ListPending(_ context.Context, _ models.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.listErr
}

func (f *fakeReviewer) Decide(_ context.Context, d approval.Decision) (*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	for _, r := range f.requests {
		if r.ID == d.ApprovalID {
			c := r.Clone()
			if d.Outcome == models.OutcomeApprove {
				c.Status = models.ApprovalStatusApproved
			} else {
				c.Status = models.ApprovalStatusDenied
			}
			return c, nil
		}
	}
	return nil, approval.ErrNotFound
}

func sampleRequests() []*models.ApprovalRequest {
	now := time.Now()
	return []*models.ApprovalRequest{
		{
			ID: "req-aaaaaaaa-1", TaskID: "t1", SessionID: "s1",
			ActionType: "delete", Command: "rm -rf /data/cache",
			RiskScore: 1, RiskFactors: []string{"destructive command: rm"},
			RequiredApproverRole: "security_admin",
			Status:               models.ApprovalStatusPending,
			TimeoutAt:            now.Add(time.Hour),
		},
		{
			ID: "req-bbbbbbbb-2", TaskID: "t2", SessionID: "s1",
			ActionType: "deploy", Target: "services/prod/api",
			RiskScore: 0.7, RequiredApproverRole: "tech_lead",
			Status:    models.ApprovalStatusExpired,
			TimeoutAt: now.Add(-time.Minute),
		},
	}
}

func loadedApp(t *testing.T) (*ReviewApp, *fakeReviewer) {
	t.Helper()
	f := &fakeReviewer{requests: sampleRequests()}
	app := NewReviewApp(f, "alice", models.ApprovalFilter{}, WithPollInterval(0))
	msg := app.load()()
	app.Update(msg)
	if len(app.requests) != 2 {
		t.Fatalf("requests = %d", len(app.requests))
	}
	return app, f
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestReviewApp_Init(t *testing.T) {
	app := NewReviewApp(&fakeReviewer{}, "alice", models.ApprovalFilter{})
	if app.Init() == nil {
		t.Error("Init should return a load command")
	}
}

func TestReviewApp_Approve(t *testing.T) {
	app, f := loadedApp(t)

	_, cmd := app.Update(key("y"))
	if cmd == nil {
		t.Fatal("expected decide command")
	}
	msg := cmd()
	dm, ok := msg.(decisionMsg)
	if !ok {
		t.Fatalf("msg = %T", msg)
	}
	if dm.err != nil || dm.request.Status != models.ApprovalStatusApproved {
		t.Errorf("decision = %+v", dm)
	}
	if len(f.decisions) != 1 {
		t.Fatalf("decisions = %d", len(f.decisions))
	}
	d := f.decisions[0]
	if d.ApproverID != "alice" || d.Outcome != models.OutcomeApprove || !d.ConditionsAccepted {
		t.Errorf("decision = %+v", d)
	}

	_, reload := app.Update(dm)
	if reload == nil {
		t.Error("expected reload after decision")
	}
	if !strings.Contains(app.status, "approved") {
		t.Errorf("status = %q", app.status)
	}
}

func TestReviewApp_DenyNeedsReason(t *testing.T) {
	app, f := loadedApp(t)

	app.Update(key("n"))
	if app.mode != modeReason {
		t.Fatal("expected reason prompt")
	}
	if _, cmd := app.Update(key("enter")); cmd != nil {
		t.Error("empty reason should not submit")
	}
	if !app.statusErr {
		t.Error("expected error status for empty reason")
	}

	app.Update(key("too risky"))
	_, cmd := app.Update(key("enter"))
	if cmd == nil {
		t.Fatal("expected decide command")
	}
	cmd()
	if app.mode != modeBrowse {
		t.Error("expected browse mode after submit")
	}
	if len(f.decisions) != 1 || f.decisions[0].Outcome != models.OutcomeDeny || f.decisions[0].Reason != "too risky" {
		t.Errorf("decisions = %+v", f.decisions)
	}
}

func TestReviewApp_EscCancelsDenial(t *testing.T) {
	app, f := loadedApp(t)
	app.Update(key("n"))
	app.Update(key("esc"))
	if app.mode != modeBrowse {
		t.Error("esc should leave the reason prompt")
	}
	if len(f.decisions) != 0 {
		t.Error("no decision expected")
	}
}

func TestReviewApp_ExpiredNotDecidable(t *testing.T) {
	app, f := loadedApp(t)
	app.Update(key("j"))
	if app.cursor != 1 {
		t.Fatalf("cursor = %d", app.cursor)
	}
	if _, cmd := app.Update(key("y")); cmd != nil {
		t.Error("expired request should not be decidable")
	}
	if !strings.Contains(app.status, "expired") {
		t.Errorf("status = %q", app.status)
	}
	if len(f.decisions) != 0 {
		t.Error("no decision expected")
	}
}

func TestReviewApp_CursorBounds(t *testing.T) {
	app, _ := loadedApp(t)
	app.Update(key("k"))
	if app.cursor != 0 {
		t.Errorf("cursor = %d", app.cursor)
	}
	app.Update(key("j"))
	app.Update(key("j"))
	if app.cursor != 1 {
		t.Errorf("cursor = %d", app.cursor)
	}
}

func TestReviewApp_ReloadKeepsSelection(t *testing.T) {
	app, _ := loadedApp(t)
	app.Update(key("j"))

	reqs := sampleRequests()
	reordered := []*models.ApprovalRequest{reqs[1], reqs[0]}
	app.Update(approvalsLoadedMsg{requests: reordered})
	if app.selected().ID != "req-bbbbbbbb-2" {
		t.Errorf("selected = %s", app.selected().ID)
	}
}

func TestReviewApp_LoadError(t *testing.T) {
	f := &fakeReviewer{listErr: errors.New("database is locked")}
	app := NewReviewApp(f, "alice", models.ApprovalFilter{}, WithPollInterval(0))
	app.Update(app.load()())
	if !app.statusErr || !strings.Contains(app.View(), "database is locked") {
		t.Errorf("status = %q", app.status)
	}
}

func TestReviewApp_View(t *testing.T) {
	app, _ := loadedApp(t)
	view := app.View()
	for _, want := range []string{"req-aaaa", "security_admin", "rm -rf /data/cache", "destructive command: rm", "expires in"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestReviewApp_Quit(t *testing.T) {
	app, _ := loadedApp(t)
	model, cmd := app.Update(key("q"))
	if !model.(*ReviewApp).quitting {
		t.Error("quitting should be true after q")
	}
	if cmd == nil {
		t.Error("expected quit command")
	}
	if app.View() != "" {
		t.Error("view should be empty after quit")
	}
}

func TestReviewApp_PollSchedulesReload(t *testing.T) {
	app := NewReviewApp(&fakeReviewer{}, "alice", models.ApprovalFilter{}, WithPollInterval(time.Millisecond))
	if _, cmd := app.Update(pollMsg(time.Now())); cmd == nil {
		t.Error("expected reload and next tick")
	}
}
