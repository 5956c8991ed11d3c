// Package config handles configuration loading and management for warden.
// It supports XDG config paths, project-level overrides, and WARDEN_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/warden/internal/api"
	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/internal/correlation"
	"github.com/ShayCichocki/warden/internal/directory"
	"github.com/ShayCichocki/warden/internal/orchestrator/policy"
)

// Config holds all configuration for warden.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Correlation  CorrelationConfig  `mapstructure:"correlation"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Store        StoreConfig        `mapstructure:"store"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// OrchestratorConfig holds session execution policy.
type OrchestratorConfig struct {
	ParallelExecution bool    `mapstructure:"parallel_execution"`
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
	QualityThreshold  float64 `mapstructure:"quality_threshold"`
	MinTaskQuality    float64 `mapstructure:"min_task_quality"`
	RiskGateThreshold float64 `mapstructure:"risk_gate_threshold"`
	EventBuffer       int     `mapstructure:"event_buffer"`
}

// CorrelationConfig holds dispatch timeout and retry settings.
type CorrelationConfig struct {
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// ApprovalConfig holds approval gate settings.
type ApprovalConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	DefaultRole   string        `mapstructure:"default_role"`
}

// RiskConfig points at an optional rule set file.
type RiskConfig struct {
	// RulesFile is a YAML rule set. Empty uses the built-in rules.
	RulesFile string `mapstructure:"rules_file"`
	// Watch reloads RulesFile when it changes.
	Watch bool `mapstructure:"watch"`
}

// DirectoryConfig holds agent directory settings.
type DirectoryConfig struct {
	AgentsFile    string        `mapstructure:"agents_file"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// StoreConfig holds the SQLite location.
type StoreConfig struct {
	// Path is the database file. Empty uses .warden/state.db in the project.
	Path string `mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LogConfig holds debug log settings.
type LogConfig struct {
	// DebugFile enables the orchestrator debug log when set.
	DebugFile string `mapstructure:"debug_file"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. ":9090".
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (WARDEN_SECTION_KEY, ANTHROPIC_API_KEY)
// 2. Project config (.warden.yaml in current directory or parent)
// 3. User config (~/.config/warden/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// variables still take precedence.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "WARDEN_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("orchestrator.parallel_execution", d.Orchestrator.ParallelExecution)
	v.SetDefault("orchestrator.max_concurrency", d.Orchestrator.MaxConcurrency)
	v.SetDefault("orchestrator.quality_threshold", d.Orchestrator.QualityThreshold)
	v.SetDefault("orchestrator.min_task_quality", d.Orchestrator.MinTaskQuality)
	v.SetDefault("orchestrator.risk_gate_threshold", d.Orchestrator.RiskGateThreshold)
	v.SetDefault("orchestrator.event_buffer", d.Orchestrator.EventBuffer)

	v.SetDefault("correlation.task_timeout", d.Correlation.TaskTimeout.String())
	v.SetDefault("correlation.max_attempts", d.Correlation.MaxAttempts)
	v.SetDefault("correlation.backoff_base", d.Correlation.BackoffBase.String())
	v.SetDefault("correlation.backoff_max", d.Correlation.BackoffMax.String())

	v.SetDefault("approval.window", d.Approval.Window.String())
	v.SetDefault("approval.sweep_interval", d.Approval.SweepInterval.String())
	v.SetDefault("approval.poll_interval", d.Approval.PollInterval.String())
	v.SetDefault("approval.default_role", d.Approval.DefaultRole)

	v.SetDefault("risk.rules_file", "")
	v.SetDefault("risk.watch", false)

	v.SetDefault("directory.agents_file", "")
	v.SetDefault("directory.probe_interval", d.Directory.ProbeInterval.String())
	v.SetDefault("directory.cache_size", d.Directory.CacheSize)
	v.SetDefault("directory.cache_ttl", d.Directory.CacheTTL.String())

	v.SetDefault("store.path", "")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("log.debug_file", "")
	v.SetDefault("metrics.listen_addr", "")
}

// getUserConfigDir returns the XDG config directory for warden.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "warden")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "warden")
	}
	return filepath.Join(home, ".config", "warden")
}

// findProjectConfig searches for .warden.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".warden.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	c := correlation.DefaultConfig()
	a := approval.DefaultConfig()
	d := directory.DefaultConfig()
	return &Config{
		Orchestrator: OrchestratorConfig{
			ParallelExecution: p.ParallelExecution,
			MaxConcurrency:    p.MaxConcurrency,
			QualityThreshold:  p.QualityThreshold,
			MinTaskQuality:    p.MinTaskQuality,
			RiskGateThreshold: p.RiskGateThreshold,
			EventBuffer:       p.EventBuffer,
		},
		Correlation: CorrelationConfig{
			TaskTimeout: c.DefaultTimeout,
			MaxAttempts: c.MaxAttempts,
			BackoffBase: c.BackoffBase,
			BackoffMax:  c.BackoffMax,
		},
		Approval: ApprovalConfig{
			Window:        a.Window,
			SweepInterval: a.SweepInterval,
			PollInterval:  a.PollInterval,
			DefaultRole:   a.DefaultRole,
		},
		Directory: DirectoryConfig{
			ProbeInterval: 30 * time.Second,
			CacheSize:     d.CacheSize,
			CacheTTL:      d.CacheTTL,
		},
		Anthropic: AnthropicConfig{
			Model:     string(anthropic.ModelClaudeSonnet4_20250514),
			MaxTokens: 4096,
		},
	}
}

// Validate checks every section by converting it to its component config.
func (c *Config) Validate() error {
	errs := []error{
		c.ToPolicy().Validate(),
		c.ToCorrelation().Validate(),
		c.ToApproval().Validate(),
		c.ToDirectory().Validate(),
	}
	if c.Directory.ProbeInterval < 0 {
		errs = append(errs, fmt.Errorf("directory probe interval must not be negative, got %v", c.Directory.ProbeInterval))
	}
	if c.Risk.Watch && c.Risk.RulesFile == "" {
		errs = append(errs, errors.New("risk.watch requires risk.rules_file"))
	}
	return errors.Join(errs...)
}

// ToPolicy returns the orchestrator execution policy.
func (c *Config) ToPolicy() *policy.Config {
	return &policy.Config{
		ParallelExecution: c.Orchestrator.ParallelExecution,
		MaxConcurrency:    c.Orchestrator.MaxConcurrency,
		QualityThreshold:  c.Orchestrator.QualityThreshold,
		MinTaskQuality:    c.Orchestrator.MinTaskQuality,
		RiskGateThreshold: c.Orchestrator.RiskGateThreshold,
		EventBuffer:       c.Orchestrator.EventBuffer,
	}
}

// ToCorrelation returns the dispatch settings.
func (c *Config) ToCorrelation() correlation.Config {
	return correlation.Config{
		DefaultTimeout: c.Correlation.TaskTimeout,
		MaxAttempts:    c.Correlation.MaxAttempts,
		BackoffBase:    c.Correlation.BackoffBase,
		BackoffMax:     c.Correlation.BackoffMax,
	}
}

// ToApproval returns the gate settings.
func (c *Config) ToApproval() approval.Config {
	return approval.Config{
		Window:        c.Approval.Window,
		SweepInterval: c.Approval.SweepInterval,
		PollInterval:  c.Approval.PollInterval,
		DefaultRole:   c.Approval.DefaultRole,
	}
}

// ToDirectory returns the directory cache settings.
func (c *Config) ToDirectory() directory.Config {
	return directory.Config{
		CacheSize: c.Directory.CacheSize,
		CacheTTL:  c.Directory.CacheTTL,
	}
}

// ToAPI returns the Anthropic client settings.
func (c *Config) ToAPI() api.ClientConfig {
	return api.ClientConfig{
		Model:         anthropic.Model(c.Anthropic.Model),
		APIKey:        c.Anthropic.APIKey,
		MaxTokens:     c.Anthropic.MaxTokens,
		UseAWSBedrock: c.Anthropic.UseBedrock,
		AWSRegion:     c.Anthropic.AWSRegion,
		AWSProfile:    c.Anthropic.AWSProfile,
	}
}
