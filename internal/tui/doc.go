// Package tui provides the terminal approvals review screen for warden.
//
// The screen lists approval requests awaiting a decision and lets an
// approver approve or deny the selected one. It polls the store so that
// requests created by other processes, and expiries, show up without a
// manual refresh.
//
// Usage:
//
//	program := tui.NewReviewProgram(gate, "alice", models.ApprovalFilter{Role: "tech_lead"})
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//
// Keys: j/k move, y approves, n asks for a denial reason, r refreshes and
// q quits.
package tui
