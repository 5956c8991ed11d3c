package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/internal/config"
	"github.com/ShayCichocki/warden/internal/correlation"
	"github.com/ShayCichocki/warden/internal/directory"
	"github.com/ShayCichocki/warden/internal/orchestrator"
	"github.com/ShayCichocki/warden/internal/risk"
	"github.com/ShayCichocki/warden/internal/state"
	"github.com/ShayCichocki/warden/internal/transport"
	"github.com/ShayCichocki/warden/pkg/models"
)

// loadConfig reads --config when given, the layered config otherwise.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// openStore opens and migrates the database named by --db, store.path or
// the project default, in that order.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := dbPath
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		return state.OpenProject(cwd)
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// schemeTransport routes inproc:// endpoints to an in-process worker and
// everything else to the websocket client.
type schemeTransport struct {
	local  *transport.InProcess
	remote *transport.WebSocket
}

func (s *schemeTransport) pick(endpoint string) transport.Transport {
	if strings.HasPrefix(endpoint, "inproc://") {
		return s.local
	}
	return s.remote
}

func (s *schemeTransport) Send(ctx context.Context, req transport.Request) (*transport.TaskResult, error) {
	return s.pick(req.Agent.Endpoint).Send(ctx, req)
}

func (s *schemeTransport) Cancel(ctx context.Context, agent models.AgentDescriptor, correlationID string) error {
	if c, ok := s.pick(agent.Endpoint).(transport.Canceler); ok {
		return c.Cancel(ctx, agent, correlationID)
	}
	return nil
}

func (s *schemeTransport) Ping(ctx context.Context, agent models.AgentDescriptor) error {
	if p, ok := s.pick(agent.Endpoint).(transport.Pinger); ok {
		return p.Ping(ctx, agent)
	}
	return nil
}

var (
	_ state.TaskRecoverer = (*correlation.Manager)(nil)
	_ transport.Transport = (*schemeTransport)(nil)
	_ transport.Canceler  = (*schemeTransport)(nil)
	_ transport.Pinger    = (*schemeTransport)(nil)
)

// engine holds the components shared by run and the approval commands.
type engine struct {
	cfg       *config.Config
	db        *state.DB
	dir       *directory.Directory
	transport *schemeTransport
	manager   *correlation.Manager
	evaluator *risk.Evaluator
	gate      *approval.Gate
	metrics   *orchestrator.Metrics
	logger    *orchestrator.DebugLogger
}

// newGateEngine opens only what deciding approvals needs.
func newGateEngine(cfg *config.Config) (*engine, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	gate, err := approval.NewGate(cfg.ToApproval(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &engine{cfg: cfg, db: db, gate: gate, logger: orchestrator.NopLogger()}, nil
}

// newEngine wires every component for running sessions.
func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	e, err := newGateEngine(cfg)
	if err != nil {
		return nil, err
	}
	if err := e.init(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) init(ctx context.Context) error {
	cfg := e.cfg

	var err error
	if cfg.Log.DebugFile != "" {
		l, err := orchestrator.NewDebugLogger(cfg.Log.DebugFile)
		if err != nil {
			return err
		}
		e.logger = l
	}

	e.dir, err = directory.New(cfg.ToDirectory())
	if err != nil {
		return err
	}
	if cfg.Directory.AgentsFile != "" {
		if err := e.dir.LoadFile(cfg.Directory.AgentsFile); err != nil {
			return fmt.Errorf("load agents: %w", err)
		}
	}

	e.transport = &schemeTransport{local: transport.NewInProcess(), remote: transport.NewWebSocket()}
	e.metrics = orchestrator.DefaultMetrics()
	e.manager, err = correlation.New(cfg.ToCorrelation(), e.dir, e.transport, correlation.WithRetryHook(e.metrics.RetryHook()))
	if err != nil {
		return err
	}

	report, err := e.db.RecoverInterrupted(ctx, time.Now(), state.WithInFlight(e.manager))
	if err != nil {
		return fmt.Errorf("recover interrupted sessions: %w", err)
	}
	if !report.Empty() {
		log.Printf("[warden] recovered %d session(s): %d task(s) timed out, %d cancelled, %d approval(s) expired",
			len(report.Sessions), report.TimedOutTasks, report.CancelledTasks, report.ExpiredApprovals)
	}

	rules := risk.DefaultRuleSet()
	if cfg.Risk.RulesFile != "" {
		if rules, err = risk.LoadRuleSet(cfg.Risk.RulesFile); err != nil {
			return err
		}
	}
	e.evaluator, err = risk.New(rules)
	if err != nil {
		return err
	}
	if cfg.Risk.Watch {
		if err := e.evaluator.Watch(ctx, cfg.Risk.RulesFile); err != nil {
			return err
		}
	}
	return nil
}

// startBackground runs the approval sweeper, the directory prober and the
// metrics endpoint until ctx is done. The returned function stops them.
func (e *engine) startBackground(ctx context.Context) (func(), error) {
	sweeper, err := approval.NewSweeper(e.gate)
	if err != nil {
		return nil, err
	}
	sweeper.Start()

	if e.cfg.Directory.ProbeInterval > 0 {
		go directory.NewProber(e.dir, e.transport, e.cfg.Directory.ProbeInterval).Run(ctx)
	}

	var srv *http.Server
	if addr := e.cfg.Metrics.ListenAddr; addr != "" {
		srv = serveMetrics(addr, nil)
	}

	return func() {
		sweeper.Stop()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
	}, nil
}

// serveMetrics serves /metrics, plus extra when non-nil, on addr.
func serveMetrics(addr string, extra map[string]http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[warden] http server on %s: %v", addr, err)
		}
	}()
	return srv
}

func (e *engine) Close() {
	if e.logger != nil {
		e.logger.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}
