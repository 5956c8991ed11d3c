// Package quality aggregates per-task scores into a session quality.
package quality

import (
	"fmt"
	"math"
	"sync"

	"github.com/ShayCichocki/warden/pkg/models"
)

// Config holds the quality gate settings.
type Config struct {
	// Threshold is the overall quality a session needs to complete.
	Threshold float64
	// MinTaskQuality rejects individual results scoring below it.
	MinTaskQuality float64
}

// DefaultConfig returns the default quality gate.
func DefaultConfig() Config {
	return Config{Threshold: 0.7, MinTaskQuality: 0}
}

// Validate checks both values are in [0,1].
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("quality threshold %v outside [0,1]", c.Threshold)
	}
	if c.MinTaskQuality < 0 || c.MinTaskQuality > 1 {
		return fmt.Errorf("min task quality %v outside [0,1]", c.MinTaskQuality)
	}
	return nil
}

// Snapshot is a point-in-time view of the aggregate.
type Snapshot struct {
	Completed int
	Failed    int
	Rejected  int
	// Mean is the mean quality of completed tasks, 0 when none.
	Mean    float64
	Overall float64
}

// Aggregator accumulates terminal tasks for one session. It is safe for
// concurrent use; recording the same task twice has no further effect.
type Aggregator struct {
	cfg Config

	mu        sync.Mutex
	seen      map[string]bool
	sum       float64
	completed int
	failed    int
	rejected  int
}

// New creates an aggregator.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid quality config: %w", err)
	}
	return &Aggregator{cfg: cfg, seen: make(map[string]bool)}, nil
}

// Accept reports whether a completed task's result meets MinTaskQuality.
// A task without a score counts as 0.
func (a *Aggregator) Accept(task *models.Task) bool {
	return score(task) >= a.cfg.MinTaskQuality
}

// Record adds a terminal task. Completed tasks below MinTaskQuality count as
// rejected, which caps the session like a failure. Non-terminal tasks are
// ignored.
func (a *Aggregator) Record(task *models.Task) {
	if !task.Status.Terminal() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen[task.ID] {
		return
	}
	a.seen[task.ID] = true

	switch {
	case task.Status != models.TaskStatusCompleted:
		a.failed++
	case !a.Accept(task):
		a.rejected++
	default:
		a.completed++
		a.sum += score(task)
	}
}

// Overall returns the mean quality of completed tasks. When any task failed
// or was rejected the result is capped strictly below the threshold.
func (a *Aggregator) Overall() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overallLocked()
}

func (a *Aggregator) overallLocked() float64 {
	mean := a.meanLocked()
	if a.failed+a.rejected > 0 {
		ceiling := math.Max(0, math.Nextafter(a.cfg.Threshold, math.Inf(-1)))
		return math.Min(mean, ceiling)
	}
	return mean
}

func (a *Aggregator) meanLocked() float64 {
	if a.completed == 0 {
		return 0
	}
	return a.sum / float64(a.completed)
}

// Passed reports whether the session meets the quality gate.
func (a *Aggregator) Passed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed+a.rejected == 0 && a.overallLocked() >= a.cfg.Threshold
}

// Snapshot returns the current counts and scores.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Completed: a.completed,
		Failed:    a.failed,
		Rejected:  a.rejected,
		Mean:      a.meanLocked(),
		Overall:   a.overallLocked(),
	}
}

func score(task *models.Task) float64 {
	if task.QualityScore == nil {
		return 0
	}
	return *task.QualityScore
}
