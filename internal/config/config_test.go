package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"WARDEN_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY", "WARDEN_ORCHESTRATOR_MAX_CONCURRENCY"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Orchestrator.ParallelExecution {
		t.Error("expected parallel execution by default")
	}
	if cfg.Orchestrator.MaxConcurrency != 5 {
		t.Errorf("expected max concurrency 5, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.QualityThreshold != 0.7 {
		t.Errorf("expected quality threshold 0.7, got %v", cfg.Orchestrator.QualityThreshold)
	}
	if cfg.Correlation.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Correlation.MaxAttempts)
	}
	if cfg.Correlation.BackoffBase != time.Second {
		t.Errorf("expected backoff base 1s, got %v", cfg.Correlation.BackoffBase)
	}
	if cfg.Approval.DefaultRole != "operator" {
		t.Errorf("expected default role operator, got %q", cfg.Approval.DefaultRole)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
orchestrator:
  parallel_execution: false
  max_concurrency: 2
  quality_threshold: 0.8
correlation:
  task_timeout: 45s
  max_attempts: 5
approval:
  window: 30m
  default_role: reviewer
risk:
  rules_file: rules.yaml
  watch: true
directory:
  agents_file: agents.yaml
  cache_ttl: 5s
store:
  path: /tmp/warden.db
anthropic:
  api_key: sk-ant-file-key
  use_bedrock: true
  aws_region: us-west-2
metrics:
  listen_addr: ":9090"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Orchestrator.ParallelExecution || cfg.Orchestrator.MaxConcurrency != 2 {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Correlation.TaskTimeout != 45*time.Second || cfg.Correlation.MaxAttempts != 5 {
		t.Errorf("correlation = %+v", cfg.Correlation)
	}
	if cfg.Correlation.BackoffMax != 30*time.Second {
		t.Errorf("expected default backoff max, got %v", cfg.Correlation.BackoffMax)
	}
	if cfg.Approval.Window != 30*time.Minute || cfg.Approval.DefaultRole != "reviewer" {
		t.Errorf("approval = %+v", cfg.Approval)
	}
	if !cfg.Risk.Watch || cfg.Risk.RulesFile != "rules.yaml" {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	if cfg.Directory.CacheTTL != 5*time.Second || cfg.Directory.AgentsFile != "agents.yaml" {
		t.Errorf("directory = %+v", cfg.Directory)
	}
	if cfg.Store.Path != "/tmp/warden.db" || cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("store/metrics = %+v %+v", cfg.Store, cfg.Metrics)
	}

	apiCfg := cfg.ToAPI()
	if apiCfg.APIKey != "sk-ant-file-key" || !apiCfg.UseAWSBedrock || apiCfg.AWSRegion != "us-west-2" {
		t.Errorf("api = %+v", apiCfg)
	}
	if p := cfg.ToPolicy(); p.Concurrency() != 1 || p.QualityThreshold != 0.8 {
		t.Errorf("policy = %+v", p)
	}
	if c := cfg.ToCorrelation(); c.DefaultTimeout != 45*time.Second {
		t.Errorf("correlation config = %+v", c)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "orchestrator:\n  max_concurrency: 2\n")
	t.Setenv("WARDEN_ORCHESTRATOR_MAX_CONCURRENCY", "9")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key-123456")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.MaxConcurrency != 9 {
		t.Errorf("max concurrency = %d, want 9", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Anthropic.APIKey != "sk-ant-env-key-123456" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
	}{
		{"zero concurrency", "orchestrator:\n  max_concurrency: 0\n"},
		{"threshold out of range", "orchestrator:\n  quality_threshold: 1.5\n"},
		{"no attempts", "correlation:\n  max_attempts: 0\n"},
		{"watch without file", "risk:\n  watch: true\n"},
		{"short sweep", "approval:\n  sweep_interval: 10ms\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromPath(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if got := expandEnv("${TEST_VAR}"); got != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", got)
	}
	if got := expandEnv("prefix-${TEST_VAR}-suffix"); got != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", got)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if dir := getUserConfigDir(); dir != "/custom/config/warden" {
		t.Errorf("expected /custom/config/warden, got %q", dir)
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, ".warden.yaml")
	if err := os.WriteFile(want, []byte("store:\n  path: x.db\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	got := findProjectConfig()
	gotEval, _ := filepath.EvalSymlinks(got)
	wantEval, _ := filepath.EvalSymlinks(want)
	if gotEval != wantEval {
		t.Errorf("findProjectConfig = %q, want %q", got, want)
	}
}
