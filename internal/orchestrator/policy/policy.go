// Package policy defines configurable policy parameters for orchestrator behavior.
// Thresholds and scheduling limits live here so they can be configured and
// tested in one place.
package policy

import (
	"errors"
	"fmt"
)

// Config contains the execution policy for a session.
type Config struct {
	// ParallelExecution runs ready tasks concurrently up to MaxConcurrency.
	// When false tasks run one at a time.
	ParallelExecution bool
	// MaxConcurrency caps concurrently running tasks of one session.
	MaxConcurrency int
	// QualityThreshold is the overall quality a session needs to complete.
	QualityThreshold float64
	// MinTaskQuality is the score below which a single result is rejected.
	MinTaskQuality float64
	// RiskGateThreshold is the risk score at or above which a task needs
	// human approval.
	RiskGateThreshold float64
	// EventBuffer is the capacity of the events channel.
	EventBuffer int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		ParallelExecution: true,
		MaxConcurrency:    5,
		QualityThreshold:  0.7,
		MinTaskQuality:    0,
		RiskGateThreshold: 0.7,
		EventBuffer:       100,
	}
}

// Concurrency returns how many tasks may run at once.
func (c *Config) Concurrency() int {
	if !c.ParallelExecution {
		return 1
	}
	return c.MaxConcurrency
}

// Validate checks that policy values are within acceptable ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("max concurrency must be at least 1, got %d", c.MaxConcurrency))
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		errs = append(errs, fmt.Errorf("quality threshold must be in [0,1], got %v", c.QualityThreshold))
	}
	if c.MinTaskQuality < 0 || c.MinTaskQuality > 1 {
		errs = append(errs, fmt.Errorf("min task quality must be in [0,1], got %v", c.MinTaskQuality))
	}
	if c.RiskGateThreshold < 0 || c.RiskGateThreshold > 1 {
		errs = append(errs, fmt.Errorf("risk gate threshold must be in [0,1], got %v", c.RiskGateThreshold))
	}
	if c.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("event buffer must not be negative, got %d", c.EventBuffer))
	}
	return errors.Join(errs...)
}
