package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/internal/config"
	"github.com/ShayCichocki/warden/internal/transport"
	"github.com/ShayCichocki/warden/pkg/models"
)

func TestSpecCapabilities(t *testing.T) {
	specs := []models.TaskSpec{
		{TaskType: "scan", Capability: "security"},
		{TaskType: "report"},
		{TaskType: "audit", Capability: "security"},
		{TaskType: "report"},
	}
	got := specCapabilities(specs)
	want := []string{"security", "report"}
	if len(got) != len(want) {
		t.Fatalf("specCapabilities() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("specCapabilities()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsPlanFile(t *testing.T) {
	dir := t.TempDir()
	plan := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(plan, []byte("tasks: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		arg  string
		want bool
	}{
		{"existing yaml", plan, true},
		{"missing yaml", filepath.Join(dir, "missing.yml"), false},
		{"free text", "rotate the staging credentials", false},
		{"other extension", filepath.Join(dir, "plan.json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPlanFile(tt.arg); got != tt.want {
				t.Errorf("isPlanFile(%q) = %v, want %v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestGetConfigValue(t *testing.T) {
	cfg := config.Default()
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"

	tests := []struct {
		key  string
		want string
	}{
		{"orchestrator.max_concurrency", "5"},
		{"ORCHESTRATOR.RISK_GATE_THRESHOLD", "0.7"},
		{"correlation.max_attempts", "3"},
		{"anthropic.api_key", "sk-ant-...mnop"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue(%q) error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("getConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	if _, err := getConfigValue(cfg, "defaults.tier"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestConfigValues_UnsetKey(t *testing.T) {
	got, err := getConfigValue(config.Default(), "anthropic.api_key")
	if err != nil {
		t.Fatal(err)
	}
	if got != "(not set)" {
		t.Errorf("api key = %q, want (not set)", got)
	}
}

func TestTaskCounts(t *testing.T) {
	tasks := []*models.Task{
		{Status: models.TaskStatusCompleted},
		{Status: models.TaskStatusFailed},
		{Status: models.TaskStatusCompleted},
		{Status: models.TaskStatusPending},
	}
	if got, want := taskCounts(tasks), "2 completed, 1 failed, 1 pending"; got != want {
		t.Errorf("taskCounts() = %q, want %q", got, want)
	}
	if got := taskCounts(nil); got != "none" {
		t.Errorf("taskCounts(nil) = %q, want none", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "-"},
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("truncate() = %q", got)
	}
}

func TestSchemeTransport_RoutesInProc(t *testing.T) {
	st := &schemeTransport{local: transport.NewInProcess(), remote: transport.NewWebSocket()}
	st.local.Handle("inproc://echo", echoHandler("echo", 0.8, 0))

	agent := models.AgentDescriptor{ID: "echo", Endpoint: "inproc://echo"}
	task := &models.Task{ID: "t1", TaskType: "scan", Input: map[string]any{"path": "/srv"}}

	res, err := st.Send(context.Background(), transport.Request{Agent: agent, Task: task, CorrelationID: "c1"})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if res.TaskID != "t1" || res.CorrelationID != "c1" || res.AgentID != "echo" {
		t.Errorf("result = %+v", res)
	}
	if res.QualityScore == nil || *res.QualityScore != 0.8 {
		t.Errorf("quality = %v", res.QualityScore)
	}
	if res.Output["handled_by"] != "echo" {
		t.Errorf("output = %v", res.Output)
	}

	if err := st.Ping(context.Background(), agent); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	missing := models.AgentDescriptor{ID: "x", Endpoint: "inproc://missing"}
	if err := st.Ping(context.Background(), missing); err == nil {
		t.Error("expected ping error for unregistered endpoint")
	}
}

func TestEchoHandler_Cancelled(t *testing.T) {
	h := echoHandler("echo", 0.9, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h(ctx, &models.Task{ID: "t1"}); err == nil {
		t.Error("expected error from cancelled context")
	}
}
