package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/state"
	"github.com/ShayCichocki/warden/pkg/models"
)

var (
	statusSession string
	statusLimit   int
	statusPurge   time.Duration
	statusDelete  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored sessions",
	Long: `Display recent sessions with task counts.

With --session, shows every task of one session. --purge deletes finished
sessions older than the given age, --delete removes one session.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "Show the tasks of one session")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of recent sessions to list")
	statusCmd.Flags().DurationVar(&statusPurge, "purge", 0, "Delete finished sessions older than this")
	statusCmd.Flags().StringVar(&statusDelete, "delete", "", "Delete one session")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	switch {
	case statusDelete != "":
		if err := db.DeleteSession(ctx, statusDelete); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", statusDelete)
		return nil
	case statusPurge > 0:
		n, err := db.PurgeOldSessions(ctx, statusPurge)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d session(s) older than %s\n", n, statusPurge)
		return nil
	case statusSession != "":
		return displaySession(ctx, db, statusSession)
	}
	return displayRecentSessions(ctx, db, statusLimit)
}

func displayRecentSessions(ctx context.Context, db state.SessionStore, limit int) error {
	sessions, err := db.ListSessions(ctx, nil, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions. Run 'warden run <plan.yaml>' to start.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tTASKS\tREQUIREMENT")
	for _, s := range sessions {
		tasks, err := db.ListTasks(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s ago\t%s\t%s\n",
			s.ID, sessionColor(s.Status), formatDuration(time.Since(s.CreatedAt)), taskCounts(tasks), truncate(s.Requirement, 50))
	}
	return w.Flush()
}

func displaySession(ctx context.Context, db state.SessionStore, id string) error {
	s, err := db.GetSession(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Session: %s\n", s.ID)
	fmt.Printf("  Requirement: %s\n", s.Requirement)
	fmt.Printf("  Status: %s\n", sessionColor(s.Status))
	fmt.Printf("  Started: %s\n", s.CreatedAt.Local().Format(time.DateTime))
	if s.CompletedAt != nil {
		fmt.Printf("  Duration: %s\n", formatDuration(s.CompletedAt.Sub(s.CreatedAt)))
	}
	fmt.Printf("  Tasks: %s\n\n", taskCounts(s.Tasks))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTYPE\tPRIORITY\tSTATUS\tQUALITY\tTIME\tERROR")
	for _, t := range s.Tasks {
		quality := "-"
		if t.QualityScore != nil {
			quality = fmt.Sprintf("%.2f", *t.QualityScore)
		}
		status := string(t.Status)
		if t.AwaitingApproval {
			status += " (awaiting approval)"
		}
		errText := ""
		if t.ErrorKind != models.ErrorKindNone {
			errText = string(t.ErrorKind) + ": " + truncate(t.Error, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.ID), t.TaskType, t.Priority, status, quality, formatDuration(t.ProcessingTime), errText)
	}
	return w.Flush()
}

// taskCounts summarizes tasks as "3 completed, 1 failed".
func taskCounts(tasks []*models.Task) string {
	if len(tasks) == 0 {
		return "none"
	}
	order := []models.TaskStatus{
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
		models.TaskStatusProcessing,
		models.TaskStatusPending,
	}
	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	var out string
	for _, st := range order {
		if counts[st] == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", counts[st], st)
	}
	return out
}

func sessionColor(s models.SessionStatus) string {
	switch s {
	case models.SessionStatusCompleted:
		return color.GreenString(string(s))
	case models.SessionStatusFailed:
		return color.RedString(string(s))
	case models.SessionStatusAnalyzing:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
