// Package decompose turns a requirement into an ordered list of task specs.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// ErrEmptyPlan is returned when a decomposer yields no tasks.
var ErrEmptyPlan = errors.New("decomposition produced no tasks")

// Decomposer plans the tasks for a requirement. Specs are returned in
// dispatch order.
type Decomposer interface {
	Plan(ctx context.Context, requirement string) ([]models.TaskSpec, error)
}

// Func adapts a function to the Decomposer interface.
type Func func(ctx context.Context, requirement string) ([]models.TaskSpec, error)

// Plan calls f.
func (f Func) Plan(ctx context.Context, requirement string) ([]models.TaskSpec, error) {
	return f(ctx, requirement)
}

// Static always returns the same plan.
type Static []models.TaskSpec

// Plan returns a copy of the plan.
func (s Static) Plan(context.Context, string) ([]models.TaskSpec, error) {
	out := make([]models.TaskSpec, len(s))
	copy(out, s)
	return out, nil
}

// Validate checks a plan: every spec has a task type, keys are unique,
// dependencies name known keys, priorities are valid and no dependency
// cycle exists.
func Validate(specs []models.TaskSpec) error {
	if len(specs) == 0 {
		return ErrEmptyPlan
	}

	keys := make(map[string]int, len(specs))
	var errs []error
	for i, s := range specs {
		if strings.TrimSpace(s.TaskType) == "" {
			errs = append(errs, fmt.Errorf("task %d: task_type is required", i))
		}
		if s.Priority != "" && !s.Priority.Valid() {
			errs = append(errs, fmt.Errorf("task %d: invalid priority %q", i, s.Priority))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("task %d: negative timeout", i))
		}
		if s.Key == "" {
			continue
		}
		if j, dup := keys[s.Key]; dup {
			errs = append(errs, fmt.Errorf("task %d: key %q already used by task %d", i, s.Key, j))
			continue
		}
		keys[s.Key] = i
	}
	for i, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := keys[dep]; !ok {
				errs = append(errs, fmt.Errorf("task %d: unknown dependency %q", i, dep))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return validateNoCycles(specs, keys)
}

// validateNoCycles checks that there are no circular dependencies among specs.
func validateNoCycles(specs []models.TaskSpec, keys map[string]int) error {
	state := make([]int, len(specs)) // 0=unvisited, 1=visiting, 2=visited

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		key := specs[i].Key
		if state[i] == 2 {
			return nil
		}
		if state[i] == 1 {
			cycleStart := 0
			for j, p := range path {
				if p == key {
					cycleStart = j
					break
				}
			}
			cycle := append(path[cycleStart:], key)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[i] = 1
		for _, dep := range specs[i].DependsOn {
			if err := visit(keys[dep], append(path, key)); err != nil {
				return err
			}
		}
		state[i] = 2
		return nil
	}

	for i := range specs {
		if state[i] == 0 {
			if err := visit(i, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Materialize validates a plan and creates pending tasks for the session,
// translating plan keys into task IDs.
func Materialize(sessionID string, specs []models.TaskSpec, now time.Time) ([]*models.Task, error) {
	if err := Validate(specs); err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, len(specs))
	idByKey := make(map[string]string, len(specs))
	for i, s := range specs {
		tasks[i] = models.NewTask(sessionID, s, now)
		if s.Key != "" {
			idByKey[s.Key] = tasks[i].ID
		}
	}
	for i, s := range specs {
		for _, dep := range s.DependsOn {
			tasks[i].DependsOn = append(tasks[i].DependsOn, idByKey[dep])
		}
	}
	return tasks, nil
}
