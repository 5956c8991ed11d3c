package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Risk-gated task orchestration",
	Long: `warden splits a requirement into tasks, sends each task to a worker
agent and collects scored results.

Tasks that touch destructive commands, elevated tools or sensitive targets
are held until a human approves them. Sessions, tasks and approval requests
are stored in SQLite so approvers can decide from another terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/warden/config.yaml + .warden.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database (default .warden/state.db)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
