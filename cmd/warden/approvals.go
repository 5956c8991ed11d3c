package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/internal/tui"
	"github.com/ShayCichocki/warden/pkg/models"
)

var (
	approvalsSession  string
	approvalsStatuses []string
	approvalsRole     string
	approverID        string
	denyReason        string
	acceptConditions  bool
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and decide approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests awaiting a decision",
	Long: `List approval requests. Requests past their deadline are expired first.

Without --status, pending and expired requests are listed.`,
	RunE: runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd.Context(), args[0], models.OutcomeApprove, "")
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <approval-id>",
	Short: "Deny a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(denyReason) == "" {
			return errors.New("--reason is required")
		}
		return decide(cmd.Context(), args[0], models.OutcomeDeny, denyReason)
	},
}

var approvalsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending requests interactively",
	RunE:  runApprovalsReview,
}

func init() {
	for _, c := range []*cobra.Command{approvalsListCmd, approvalsReviewCmd} {
		c.Flags().StringVar(&approvalsSession, "session", "", "Only requests of this session")
		c.Flags().StringVar(&approvalsRole, "role", "", "Only requests for this approver role")
	}
	approvalsListCmd.Flags().StringSliceVar(&approvalsStatuses, "status", nil, "Statuses to list (pending, approved, denied, expired)")

	for _, c := range []*cobra.Command{approvalsApproveCmd, approvalsDenyCmd, approvalsReviewCmd} {
		c.Flags().StringVar(&approverID, "approver", "", "Approver id (default: current user)")
	}
	approvalsApproveCmd.Flags().BoolVar(&acceptConditions, "accept-conditions", false, "Accept the request's approval conditions")
	approvalsDenyCmd.Flags().StringVar(&denyReason, "reason", "", "Why the request is denied")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsDenyCmd, approvalsReviewCmd)
}

func approvalFilter() (models.ApprovalFilter, error) {
	f := models.ApprovalFilter{SessionID: approvalsSession, Role: approvalsRole}
	for _, s := range approvalsStatuses {
		status := models.ApprovalStatus(strings.ToLower(strings.TrimSpace(s)))
		if !status.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, status)
	}
	return f, nil
}

func resolveApprover() (string, error) {
	if approverID != "" {
		return approverID, nil
	}
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "", errors.New("--approver is required")
	}
	return u.Username, nil
}

func withGate(fn func(e *engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e, err := newGateEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	filter, err := approvalFilter()
	if err != nil {
		return err
	}
	return withGate(func(e *engine) error {
		reqs, err := e.gate.ListPending(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			fmt.Println("No approval requests.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tRISK\tROLE\tEXPIRES\tACTION")
		for _, r := range reqs {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
				r.ID, statusColor(r.Status), r.RiskScore, r.RequiredApproverRole, expiresIn(r), describeRequest(r))
		}
		return w.Flush()
	})
}

func decide(ctx context.Context, id string, outcome models.Outcome, reason string) error {
	approver, err := resolveApprover()
	if err != nil {
		return err
	}
	return withGate(func(e *engine) error {
		req, err := e.gate.Decide(ctx, approval.Decision{
			ApprovalID:         id,
			ApproverID:         approver,
			Outcome:            outcome,
			Reason:             reason,
			ConditionsAccepted: acceptConditions,
		})
		switch {
		case errors.Is(err, approval.ErrConditionsNotAccepted):
			return fmt.Errorf("%w: rerun with --accept-conditions", err)
		case err != nil:
			return err
		}
		fmt.Printf("%s %s %s by %s\n", color.GreenString("✓"), req.ID, statusColor(req.Status), approver)
		return nil
	})
}

func runApprovalsReview(cmd *cobra.Command, args []string) error {
	approver, err := resolveApprover()
	if err != nil {
		return err
	}
	filter, err := approvalFilter()
	if err != nil {
		return err
	}
	return withGate(func(e *engine) error {
		_, err := tui.NewReviewProgram(e.gate, approver, filter, tui.WithPollInterval(e.cfg.Approval.PollInterval)).Run()
		return err
	})
}

func statusColor(s models.ApprovalStatus) string {
	switch s {
	case models.ApprovalStatusPending:
		return color.YellowString(string(s))
	case models.ApprovalStatusApproved:
		return color.GreenString(string(s))
	case models.ApprovalStatusDenied:
		return color.RedString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

func expiresIn(r *models.ApprovalRequest) string {
	if r.Status != models.ApprovalStatusPending {
		return "-"
	}
	return time.Until(r.TimeoutAt).Round(time.Second).String()
}

func describeRequest(r *models.ApprovalRequest) string {
	parts := []string{r.ActionType}
	if r.ToolName != "" {
		parts = append(parts, "tool="+r.ToolName)
	}
	if r.Target != "" {
		parts = append(parts, "target="+r.Target)
	}
	if r.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%q", r.Command))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
