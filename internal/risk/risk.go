// Package risk scores proposed agent actions against a configurable rule set.
package risk

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/warden/pkg/models"
)

// ErrMalformedTask is returned when a task carries nothing to evaluate.
var ErrMalformedTask = errors.New("malformed task for risk evaluation")

// Assessment is the outcome of scoring one task.
type Assessment struct {
	Score   float64
	Factors []string
}

// Evaluator scores tasks. Rules may be swapped at runtime; each Assess call
// sees one consistent rule set.
type Evaluator struct {
	mu    sync.RWMutex
	rules *compiled
}

// New creates an evaluator for the rule set.
func New(rs RuleSet) (*Evaluator, error) {
	c, err := compile(rs)
	if err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	return &Evaluator{rules: c}, nil
}

// SetRules replaces the active rule set.
func (e *Evaluator) SetRules(rs RuleSet) error {
	c, err := compile(rs)
	if err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	e.mu.Lock()
	e.rules = c
	e.mu.Unlock()
	return nil
}

// Rules returns the active rule set.
func (e *Evaluator) Rules() RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules.src
}

func (e *Evaluator) current() *compiled {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Assess scores the task's action type, target, tool and command. It does
// not modify the task.
func (e *Evaluator) Assess(task *models.Task) (Assessment, error) {
	if task == nil {
		return Assessment{}, fmt.Errorf("%w: nil task", ErrMalformedTask)
	}
	if strings.TrimSpace(task.TaskType) == "" && strings.TrimSpace(task.ActionType) == "" {
		return Assessment{}, fmt.Errorf("%w: task %s has neither task type nor action type", ErrMalformedTask, task.ID)
	}

	c := e.current()
	var a Assessment

	if c.verbs != nil && task.Command != "" {
		if verbs := uniqueLower(c.verbs.FindAllString(task.Command, -1)); len(verbs) > 0 {
			a.add(c.src.DestructiveVerbs.Weight, "destructive command: "+strings.Join(verbs, ", "))
		}
	}

	if tool := strings.ToLower(strings.TrimSpace(task.ToolName)); tool != "" && c.tools[tool] {
		a.add(c.src.ElevatedTools.Weight, "elevated tool: "+tool)
	}

	if reason, ok := c.sensitiveTarget(task.Target); ok {
		a.add(c.src.SensitiveTargets.Weight, "sensitive target: "+reason)
	}

	if action := strings.ToLower(strings.TrimSpace(task.ActionType)); action != "" {
		if w, ok := c.actions[action]; ok && w > 0 {
			a.add(w, "action type: "+action)
		}
	}

	a.Score = math.Min(1, math.Max(0, a.Score))
	return a, nil
}

func (a *Assessment) add(weight float64, factor string) {
	a.Score += weight
	a.Factors = append(a.Factors, factor)
}

func (c *compiled) sensitiveTarget(target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	normalized := filepath.ToSlash(target)
	for _, p := range c.patterns {
		if matchTarget(normalized, p) {
			return target + " matches " + p, true
		}
	}
	lower := strings.ToLower(normalized)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return target + " contains " + k, true
		}
	}
	return "", false
}

// RequiredRole returns the approver role for the assessment's score, or ""
// when no threshold applies.
func (e *Evaluator) RequiredRole(a Assessment) string {
	for _, r := range e.current().roles {
		if a.Score >= r.MinScore {
			return r.Role
		}
	}
	return ""
}

// Conditions returns the approval conditions of the threshold that selects
// the assessment's role.
func (e *Evaluator) Conditions(a Assessment) []string {
	for _, r := range e.current().roles {
		if a.Score >= r.MinScore {
			return append([]string(nil), r.Conditions...)
		}
	}
	return nil
}

func uniqueLower(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
