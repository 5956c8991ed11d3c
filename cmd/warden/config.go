package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Display the effective warden configuration.

Without arguments, displays every value and where config was read from.
With one argument (key), displays the value for that key.

Configuration is read from ~/.config/warden/config.yaml.
Project-specific overrides can be placed in .warden.yaml, and any key can
be overridden with WARDEN_SECTION_KEY environment variables.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if len(args) == 1 {
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		}
		displayAllConfig(cfg)
		return nil
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("# user config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("# project config: %s\n", p)
	}
	if configPath != "" {
		fmt.Printf("# --config: %s\n", configPath)
	}
	fmt.Printf("# api key source: %s\n", config.GetAPIKeySource(cfg))
	for _, kv := range configValues(cfg) {
		fmt.Printf("%s: %s\n", kv[0], kv[1])
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	for _, kv := range configValues(cfg) {
		if kv[0] == key {
			return kv[1], nil
		}
	}
	return "", fmt.Errorf("unknown configuration key: %s", key)
}

// configValues flattens cfg into dot-notation keys. The API key is masked.
func configValues(cfg *config.Config) [][2]string {
	apiKey := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKey = config.MaskAPIKey(cfg.Anthropic.APIKey)
	}
	o, c, a, d := cfg.Orchestrator, cfg.Correlation, cfg.Approval, cfg.Directory
	return [][2]string{
		{"orchestrator.parallel_execution", strconv.FormatBool(o.ParallelExecution)},
		{"orchestrator.max_concurrency", strconv.Itoa(o.MaxConcurrency)},
		{"orchestrator.quality_threshold", formatFloat(o.QualityThreshold)},
		{"orchestrator.min_task_quality", formatFloat(o.MinTaskQuality)},
		{"orchestrator.risk_gate_threshold", formatFloat(o.RiskGateThreshold)},
		{"orchestrator.event_buffer", strconv.Itoa(o.EventBuffer)},
		{"correlation.task_timeout", c.TaskTimeout.String()},
		{"correlation.max_attempts", strconv.Itoa(c.MaxAttempts)},
		{"correlation.backoff_base", c.BackoffBase.String()},
		{"correlation.backoff_max", c.BackoffMax.String()},
		{"approval.window", a.Window.String()},
		{"approval.sweep_interval", a.SweepInterval.String()},
		{"approval.poll_interval", a.PollInterval.String()},
		{"approval.default_role", a.DefaultRole},
		{"risk.rules_file", cfg.Risk.RulesFile},
		{"risk.watch", strconv.FormatBool(cfg.Risk.Watch)},
		{"directory.agents_file", d.AgentsFile},
		{"directory.probe_interval", d.ProbeInterval.String()},
		{"directory.cache_size", strconv.Itoa(d.CacheSize)},
		{"directory.cache_ttl", d.CacheTTL.String()},
		{"store.path", cfg.Store.Path},
		{"anthropic.api_key", apiKey},
		{"anthropic.model", cfg.Anthropic.Model},
		{"anthropic.max_tokens", strconv.FormatInt(cfg.Anthropic.MaxTokens, 10)},
		{"anthropic.use_bedrock", strconv.FormatBool(cfg.Anthropic.UseBedrock)},
		{"anthropic.aws_region", cfg.Anthropic.AWSRegion},
		{"anthropic.aws_profile", cfg.Anthropic.AWSProfile},
		{"log.debug_file", cfg.Log.DebugFile},
		{"metrics.listen_addr", cfg.Metrics.ListenAddr},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
