package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/api"
	"github.com/ShayCichocki/warden/internal/config"
	"github.com/ShayCichocki/warden/internal/decompose"
	"github.com/ShayCichocki/warden/internal/orchestrator"
	"github.com/ShayCichocki/warden/pkg/models"
)

var (
	runPlanPath    string
	runUseLLM      bool
	runSequential  bool
	runConcurrency int
	runLocal       bool
	runLocalDelay  time.Duration
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [plan.yaml | requirement]",
	Short: "Run one orchestration session",
	Long: `Plan a requirement into tasks and run them to completion.

The plan comes from a YAML plan file (--plan, or a .yaml argument) or from
the Anthropic API (--llm). Risky tasks wait for a decision made with
'warden approvals' in another terminal.

Examples:
  warden run plan.yaml --local
  warden run --llm "rotate the staging database credentials"`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "YAML plan file")
	runCmd.Flags().BoolVar(&runUseLLM, "llm", false, "Decompose the requirement with the Anthropic API")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "Run one task at a time")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Override orchestrator.max_concurrency")
	runCmd.Flags().BoolVar(&runLocal, "local", false, "Serve every capability with an in-process echo worker")
	runCmd.Flags().DurationVar(&runLocalDelay, "local-delay", 0, "Simulated processing time of the local worker")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runSequential {
		cfg.Orchestrator.ParallelExecution = false
	}
	if runConcurrency > 0 {
		cfg.Orchestrator.MaxConcurrency = runConcurrency
	}
	if runMetricsAddr != "" {
		cfg.Metrics.ListenAddr = runMetricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	src, err := buildDecomposer(ctx, cfg, e, args)
	if err != nil {
		return err
	}
	if runLocal {
		if err := registerLocalWorker(e, src.capabilities); err != nil {
			return err
		}
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{
		Decomposer: src.decomposer,
		Dispatcher: e.manager,
		Risk:       e.evaluator,
		Gate:       e.gate,
	},
		orchestrator.WithPolicy(cfg.ToPolicy()),
		orchestrator.WithStore(e.db),
		orchestrator.WithLogger(e.logger),
		orchestrator.WithMetrics(e.metrics),
	)
	if err != nil {
		return err
	}

	stopBackground, err := e.startBackground(ctx)
	if err != nil {
		return err
	}
	defer stopBackground()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range orch.Events() {
			printEvent(ev)
		}
	}()

	session := models.NewSession(src.requirement, time.Now())
	fmt.Printf("%s session %s: %s\n", color.CyanString("▶"), session.ID, src.requirement)
	res, runErr := orch.Orchestrate(ctx, session)
	orch.Close()
	<-printed

	if res != nil {
		printResult(res)
	}
	if src.client != nil {
		in, out := src.client.Tracker().Total()
		fmt.Printf("  planning: %d call(s), %d input / %d output tokens\n", src.client.Tracker().Calls(), in, out)
	}
	if runErr != nil {
		return runErr
	}
	if !res.Succeeded() {
		return fmt.Errorf("session %s failed", res.SessionID)
	}
	return nil
}

// planSource is where a session's tasks come from.
type planSource struct {
	decomposer   decompose.Decomposer
	requirement  string
	capabilities []string
	// client is set for LLM planning.
	client *api.Client
}

// buildDecomposer picks the plan source from the flags and arguments.
func buildDecomposer(ctx context.Context, cfg *config.Config, e *engine, args []string) (*planSource, error) {
	planPath := runPlanPath
	if planPath == "" && len(args) == 1 && isPlanFile(args[0]) {
		planPath = args[0]
	}

	if planPath != "" {
		plan, err := decompose.LoadPlanFile(planPath)
		if err != nil {
			return nil, err
		}
		requirement := plan.Requirement()
		if requirement == "" {
			requirement = filepath.Base(planPath)
		}
		specs, err := plan.Plan(ctx, requirement)
		if err != nil {
			return nil, err
		}
		return &planSource{decomposer: plan, requirement: requirement, capabilities: specCapabilities(specs)}, nil
	}

	requirement := strings.TrimSpace(strings.Join(args, " "))
	if requirement == "" {
		return nil, errors.New("give a plan file or a requirement")
	}
	if !runUseLLM {
		return nil, errors.New("a free-text requirement needs --llm")
	}

	apiCfg := cfg.ToAPI()
	if !apiCfg.UseAWSBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or anthropic.api_key", err)
		}
		apiCfg.APIKey = key
	}
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}

	capabilities := directoryCapabilities(e)
	if len(capabilities) == 0 {
		capabilities = []string{"general"}
	}
	return &planSource{
		decomposer:   decompose.NewLLM(client, capabilities),
		requirement:  requirement,
		capabilities: capabilities,
		client:       client,
	}, nil
}

func isPlanFile(arg string) bool {
	ext := strings.ToLower(filepath.Ext(arg))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	_, err := os.Stat(arg)
	return err == nil
}

func specCapabilities(specs []models.TaskSpec) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range specs {
		c := s.Capability
		if c == "" {
			c = s.TaskType
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func directoryCapabilities(e *engine) []string {
	seen := make(map[string]bool)
	for _, a := range e.dir.All() {
		for _, c := range a.Capabilities {
			seen[c] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func registerLocalWorker(e *engine, capabilities []string) error {
	const id = "local-echo"
	endpoint := "inproc://" + id
	e.transport.local.Handle(endpoint, echoHandler(id, 0.9, runLocalDelay))
	return e.dir.Register(models.AgentDescriptor{
		ID:           id,
		Endpoint:     endpoint,
		Capabilities: capabilities,
	})
}

func printEvent(ev orchestrator.OrchestratorEvent) {
	id := shortID(ev.TaskID)
	switch ev.Type {
	case orchestrator.EventTaskQueued:
		fmt.Printf("  %s %s %s queued\n", color.HiBlackString("·"), id, ev.TaskType)
	case orchestrator.EventTaskAwaitingApproval:
		fmt.Printf("  %s %s %s awaiting approval (%s)\n", color.YellowString("⏸"), id, ev.TaskType, ev.Message)
		fmt.Printf("    warden approvals approve %s --approver <you>\n", ev.ApprovalID)
	case orchestrator.EventTaskStarted:
		fmt.Printf("  %s %s %s sent to %s\n", color.CyanString("→"), id, ev.TaskType, ev.AgentID)
	case orchestrator.EventTaskCompleted:
		fmt.Printf("  %s %s %s completed in %s\n", color.GreenString("✓"), id, ev.TaskType, ev.Duration.Round(time.Millisecond))
	case orchestrator.EventTaskFailed:
		fmt.Printf("  %s %s %s %s: %s\n", color.RedString("✗"), id, ev.TaskType, ev.ErrorKind, ev.Message)
	}
}

func printResult(res *orchestrator.Result) {
	fmt.Println()
	if res.Succeeded() {
		fmt.Printf("%s session %s completed, quality %.2f, %d task(s), %s processing\n",
			color.GreenString("✓"), res.SessionID, res.OverallQuality, len(res.Tasks), res.TotalProcessingTime.Round(time.Millisecond))
	} else {
		fmt.Printf("%s session %s failed, quality %.2f\n", color.RedString("✗"), res.SessionID, res.OverallQuality)
		if res.FirstError != nil {
			fmt.Printf("  first error: %v\n", res.FirstError)
		}
	}
	for _, d := range res.Diagnostics {
		line := fmt.Sprintf("  %s %-10s %-9s", shortID(d.TaskID), d.TaskType, d.Status)
		if d.ErrorKind != "" {
			line += " " + string(d.ErrorKind)
		}
		if d.Approval != "" {
			line += " approval=" + d.Approval
		}
		if d.Error != "" {
			line += ": " + d.Error
		}
		fmt.Println(line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
