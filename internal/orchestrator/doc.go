// Package orchestrator runs a session: it plans the requirement into tasks,
// then drives each task through risk assessment, an optional human
// approval, dispatch to a worker and quality scoring.
//
// The per-task pipeline is:
//   - Risk: the task's action, target, tool and command are scored
//   - Approval: a score at or above the gate threshold suspends the task
//     until an approver decides or the request expires
//   - Dispatch: the correlation manager sends the task to a worker under
//     a deadline, retrying transient failures
//   - Quality: the result's score feeds the session aggregate
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Decomposer: decompose.Static(plan),
//		Dispatcher: manager,
//		Risk:       evaluator,
//		Gate:       gate,
//	}, orchestrator.WithStore(db))
//	result, err := orch.Orchestrate(ctx, models.NewSession("rotate credentials", time.Now()))
package orchestrator
