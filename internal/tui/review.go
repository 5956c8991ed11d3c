package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Reviewer lists and decides approval requests. *approval.Gate implements it.
type Reviewer interface {
	ListPending(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error)
	Decide(ctx context.Context, d approval.Decision) (*models.ApprovalRequest, error)
}

var _ Reviewer = (*approval.Gate)(nil)

const (
	defaultPollInterval = 2 * time.Second
	requestTimeout      = 10 * time.Second
)

// approvalsLoadedMsg carries a fresh listing.
type approvalsLoadedMsg struct {
	requests []*models.ApprovalRequest
	err      error
}

// decisionMsg carries the result of a submitted decision.
type decisionMsg struct {
	request *models.ApprovalRequest
	outcome models.Outcome
	err     error
}

// pollMsg triggers a periodic reload.
type pollMsg time.Time

type reviewMode int

const (
	modeBrowse reviewMode = iota
	modeReason
)

// ReviewApp is the bubbletea model of the approvals review screen.
type ReviewApp struct {
	reviewer   Reviewer
	approverID string
	filter     models.ApprovalFilter
	interval   time.Duration
	now        func() time.Time

	requests []*models.ApprovalRequest
	cursor   int
	mode     reviewMode
	reason   textinput.Model

	status    string
	statusErr bool
	width     int
	quitting  bool
}

// ReviewOption configures a ReviewApp.
type ReviewOption func(*ReviewApp)

// WithPollInterval sets how often the list reloads. Zero disables polling.
func WithPollInterval(d time.Duration) ReviewOption {
	return func(a *ReviewApp) { a.interval = d }
}

// WithClock overrides the time source used for expiry countdowns.
func WithClock(now func() time.Time) ReviewOption {
	return func(a *ReviewApp) { a.now = now }
}

// NewReviewApp creates the review screen for one approver.
func NewReviewApp(reviewer Reviewer, approverID string, filter models.ApprovalFilter, opts ...ReviewOption) *ReviewApp {
	ti := textinput.New()
	ti.Placeholder = "reason for denial"
	ti.CharLimit = 200
	ti.Width = 60

	a := &ReviewApp{
		reviewer:   reviewer,
		approverID: approverID,
		filter:     filter,
		interval:   defaultPollInterval,
		now:        time.Now,
		reason:     ti,
		width:      80,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewReviewProgram wraps a ReviewApp in a full-screen program.
func NewReviewProgram(reviewer Reviewer, approverID string, filter models.ApprovalFilter, opts ...ReviewOption) *tea.Program {
	return tea.NewProgram(NewReviewApp(reviewer, approverID, filter, opts...), tea.WithAltScreen())
}

// Init loads the first listing and starts polling.
func (a *ReviewApp) Init() tea.Cmd {
	return tea.Batch(a.load(), a.poll())
}

func (a *ReviewApp) load() tea.Cmd {
	reviewer, filter := a.reviewer, a.filter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		reqs, err := reviewer.ListPending(ctx, filter)
		return approvalsLoadedMsg{requests: reqs, err: err}
	}
}

func (a *ReviewApp) poll() tea.Cmd {
	if a.interval <= 0 {
		return nil
	}
	return tea.Tick(a.interval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (a *ReviewApp) decide(id string, outcome models.Outcome, reason string) tea.Cmd {
	reviewer := a.reviewer
	d := approval.Decision{
		ApprovalID: id,
		ApproverID: a.approverID,
		Outcome:    outcome,
		Reason:     reason,
		// Conditions are on screen when the approver presses y.
		ConditionsAccepted: outcome == models.OutcomeApprove,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		req, err := reviewer.Decide(ctx, d)
		return decisionMsg{request: req, outcome: outcome, err: err}
	}
}

// Update handles messages.
func (a *ReviewApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.reason.Width = max(10, msg.Width-6)
		return a, nil

	case approvalsLoadedMsg:
		if msg.err != nil {
			a.setStatus(fmt.Sprintf("load failed: %v", msg.err), true)
			return a, nil
		}
		a.setRequests(msg.requests)
		return a, nil

	case decisionMsg:
		if msg.err != nil {
			a.setStatus(fmt.Sprintf("decision failed: %v", msg.err), true)
		} else {
			a.setStatus(fmt.Sprintf("%s %s", shortID(msg.request.ID), msg.request.Status), false)
		}
		return a, a.load()

	case pollMsg:
		return a, tea.Batch(a.load(), a.poll())

	case tea.KeyMsg:
		if a.mode == modeReason {
			return a.updateReason(msg)
		}
		return a.updateBrowse(msg)
	}
	return a, nil
}

func (a *ReviewApp) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		a.quitting = true
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.requests)-1 {
			a.cursor++
		}
	case "r":
		a.setStatus("refreshing", false)
		return a, a.load()
	case "y", "Y":
		req, ok := a.decidable()
		if !ok {
			return a, nil
		}
		return a, a.decide(req.ID, models.OutcomeApprove, "")
	case "n", "N":
		if _, ok := a.decidable(); !ok {
			return a, nil
		}
		a.mode = modeReason
		a.reason.Reset()
		return a, a.reason.Focus()
	}
	return a, nil
}

func (a *ReviewApp) updateReason(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		a.quitting = true
		return a, tea.Quit
	case "esc":
		a.mode = modeBrowse
		a.reason.Blur()
		return a, nil
	case "enter":
		reason := strings.TrimSpace(a.reason.Value())
		if reason == "" {
			a.setStatus("a denial needs a reason", true)
			return a, nil
		}
		req, ok := a.decidable()
		a.mode = modeBrowse
		a.reason.Blur()
		if !ok {
			return a, nil
		}
		return a, a.decide(req.ID, models.OutcomeDeny, reason)
	}
	var cmd tea.Cmd
	a.reason, cmd = a.reason.Update(msg)
	return a, cmd
}

// decidable returns the selected request if it is still pending.
func (a *ReviewApp) decidable() (*models.ApprovalRequest, bool) {
	req := a.selected()
	if req == nil {
		a.setStatus("nothing selected", true)
		return nil, false
	}
	if req.Status != models.ApprovalStatusPending {
		a.setStatus(fmt.Sprintf("%s is %s", shortID(req.ID), req.Status), true)
		return nil, false
	}
	return req, true
}

func (a *ReviewApp) selected() *models.ApprovalRequest {
	if a.cursor < 0 || a.cursor >= len(a.requests) {
		return nil
	}
	return a.requests[a.cursor]
}

// setRequests replaces the listing and keeps the cursor on the same request
// when it is still listed.
func (a *ReviewApp) setRequests(reqs []*models.ApprovalRequest) {
	var current string
	if sel := a.selected(); sel != nil {
		current = sel.ID
	}
	a.requests = reqs
	a.cursor = 0
	for i, r := range reqs {
		if r.ID == current {
			a.cursor = i
			break
		}
	}
}

func (a *ReviewApp) setStatus(s string, isErr bool) {
	a.status = s
	a.statusErr = isErr
}

// View renders the screen.
func (a *ReviewApp) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("warden approvals  %s", a.approverID)))
	b.WriteString("\n\n")

	if len(a.requests) == 0 {
		b.WriteString(helpStyle.Render("no approval requests"))
		b.WriteString("\n")
	}
	for i, r := range a.requests {
		line := fmt.Sprintf("%-8s %s  %-14s %-9s %s",
			shortID(r.ID),
			riskStyle(r.RiskScore).Render(fmt.Sprintf("%.2f", r.RiskScore)),
			r.RequiredApproverRole,
			r.Status,
			describe(r))
		switch {
		case i == a.cursor:
			b.WriteString(selectedStyle.Render("> " + line))
		case r.Status != models.ApprovalStatusPending:
			b.WriteString(expiredStyle.Render("  " + line))
		default:
			b.WriteString(rowStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	if sel := a.selected(); sel != nil {
		b.WriteString("\n")
		b.WriteString(detailStyle.Width(max(20, a.width-2)).Render(a.details(sel)))
		b.WriteString("\n")
	}

	if a.mode == modeReason {
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("deny: "))
		b.WriteString(a.reason.View())
		b.WriteString("\n")
	}

	if a.status != "" {
		b.WriteString("\n")
		if a.statusErr {
			b.WriteString(errorStyle.Render(a.status))
		} else {
			b.WriteString(okStyle.Render(a.status))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if a.mode == modeReason {
		b.WriteString(helpStyle.Render("enter submit  esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("j/k move  y approve  n deny  r refresh  q quit"))
	}
	return b.String()
}

func (a *ReviewApp) details(r *models.ApprovalRequest) string {
	rows := [][2]string{
		{"request", r.ID},
		{"task", r.TaskID},
		{"session", r.SessionID},
		{"action", r.ActionType},
		{"target", r.Target},
		{"tool", r.ToolName},
		{"command", r.Command},
		{"factors", strings.Join(r.RiskFactors, "; ")},
		{"conditions", strings.Join(r.ApprovalConditions, "; ")},
	}
	if r.Status == models.ApprovalStatusPending {
		rows = append(rows, [2]string{"expires in", r.TimeoutAt.Sub(a.now()).Round(time.Second).String()})
	} else {
		rows = append(rows, [2]string{"expired at", r.TimeoutAt.Local().Format(time.TimeOnly)})
	}

	var lines []string
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-11s", row[0]))+row[1])
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// describe picks the most telling field of a request for the list row.
func describe(r *models.ApprovalRequest) string {
	switch {
	case r.Command != "":
		return r.Command
	case r.Target != "":
		return r.ActionType + " " + r.Target
	default:
		return r.ActionType
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
