package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/transport"
)

var (
	workerAddr    string
	workerID      string
	workerQuality float64
	workerDelay   time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve a websocket echo worker",
	Long: `Serve a worker endpoint that answers every task with its input.

Point an agents file at it for local end-to-end runs:

  agents:
    - id: echo-1
      endpoint: ws://localhost:8765/task
      capabilities: [general]

The same listener serves Prometheus metrics on /metrics.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerAddr, "addr", ":8765", "Listen address")
	workerCmd.Flags().StringVar(&workerID, "id", "echo-1", "Agent id reported in results")
	workerCmd.Flags().Float64Var(&workerQuality, "quality", 0.9, "Quality score attached to every result")
	workerCmd.Flags().DurationVar(&workerDelay, "delay", 0, "Simulated processing time per task")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if workerQuality < 0 || workerQuality > 1 {
		return fmt.Errorf("quality must be in [0,1], got %v", workerQuality)
	}

	server := transport.NewServer(workerID, echoHandler(workerID, workerQuality, workerDelay))
	srv := serveMetrics(workerAddr, map[string]http.Handler{"/task": server})
	fmt.Printf("%s worker %s listening on %s (ws path /task)\n", color.GreenString("✓"), workerID, workerAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n := server.InFlight(); n > 0 {
		fmt.Printf("%s shutting down with %d task(s) in flight\n", color.YellowString("⚠"), n)
	}
	return srv.Shutdown(shutdownCtx)
}
