package policy

import "testing"

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }},
		{"quality above one", func(c *Config) { c.QualityThreshold = 1.5 }},
		{"negative min quality", func(c *Config) { c.MinTaskQuality = -0.1 }},
		{"risk threshold above one", func(c *Config) { c.RiskGateThreshold = 2 }},
		{"negative event buffer", func(c *Config) { c.EventBuffer = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConcurrency(t *testing.T) {
	c := Default()
	if got := c.Concurrency(); got != 5 {
		t.Errorf("parallel concurrency = %d, want 5", got)
	}
	c.ParallelExecution = false
	if got := c.Concurrency(); got != 1 {
		t.Errorf("sequential concurrency = %d, want 1", got)
	}
}
