package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/warden/internal/transport"
	"github.com/ShayCichocki/warden/pkg/models"
)

// echoHandler answers every task with its own input after delay, scored
// with the given quality.
func echoHandler(agentID string, quality float64, delay time.Duration) transport.HandlerFunc {
	return func(ctx context.Context, task *models.Task) (*transport.TaskResult, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		q := quality
		confidence := 1.0
		return &transport.TaskResult{
			AgentID: agentID,
			Output: map[string]any{
				"task_type":  task.TaskType,
				"input":      task.Input,
				"handled_by": agentID,
				"summary":    fmt.Sprintf("%s handled by %s", task.TaskType, agentID),
			},
			QualityScore:    &q,
			ConfidenceScore: &confidence,
		}, nil
	}
}
