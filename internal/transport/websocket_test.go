package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

func startWorker(t *testing.T, h HandlerFunc) (*Server, models.AgentDescriptor) {
	t.Helper()
	srv := NewServer("remote-1", h)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return srv, models.AgentDescriptor{ID: "agent-1", Endpoint: wsURL, Status: models.AgentStatusActive}
}

func TestWebSocket_SendResult(t *testing.T) {
	q := 0.9
	_, agent := startWorker(t, func(_ context.Context, task *models.Task) (*TaskResult, error) {
		return &TaskResult{Output: map[string]any{"echo": task.TaskType}, QualityScore: &q}, nil
	})

	ws := NewWebSocket()
	res, err := ws.Send(context.Background(), Request{
		Agent:         agent,
		Task:          &models.Task{ID: "t1", TaskType: "design"},
		CorrelationID: "c1",
		Deadline:      time.Now().Add(5 * time.Second),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.CorrelationID != "c1" || res.TaskID != "t1" {
		t.Errorf("unexpected ids: %+v", res)
	}
	if res.AgentID != "remote-1" {
		t.Errorf("expected agent id remote-1, got %s", res.AgentID)
	}
	if res.Output["echo"] != "design" {
		t.Errorf("expected echo design, got %v", res.Output["echo"])
	}
	if res.QualityScore == nil || *res.QualityScore != 0.9 {
		t.Errorf("expected quality 0.9, got %v", res.QualityScore)
	}
}

func TestWebSocket_WorkerRejectionIsPermanent(t *testing.T) {
	_, agent := startWorker(t, func(context.Context, *models.Task) (*TaskResult, error) {
		return nil, errors.New("unsupported task type")
	})

	_, err := NewWebSocket().Send(context.Background(), Request{
		Agent:         agent,
		Task:          &models.Task{ID: "t1"},
		CorrelationID: "c1",
		Deadline:      time.Now().Add(5 * time.Second),
	})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported task type") {
		t.Errorf("expected worker message in error, got %v", err)
	}
}

func TestWebSocket_DeadlineIsTransient(t *testing.T) {
	_, agent := startWorker(t, func(ctx context.Context, _ *models.Task) (*TaskResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := NewWebSocket().Send(context.Background(), Request{
		Agent:         agent,
		Task:          &models.Task{ID: "t1"},
		CorrelationID: "c1",
		Deadline:      time.Now().Add(200 * time.Millisecond),
	})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Send did not honor the deadline")
	}
}

func TestWebSocket_ContextCancelStopsWorker(t *testing.T) {
	started := make(chan struct{})
	srv, agent := startWorker(t, func(ctx context.Context, _ *models.Task) (*TaskResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := NewWebSocket().Send(ctx, Request{
			Agent:         agent,
			Task:          &models.Task{ID: "t1"},
			CorrelationID: "c1",
			Deadline:      time.Now().Add(10 * time.Second),
		})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Send did not return after cancel")
	}

	deadline := time.Now().Add(3 * time.Second)
	for srv.InFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.InFlight() != 0 {
		t.Errorf("expected worker to abandon task, %d still in flight", srv.InFlight())
	}
}

func TestWebSocket_CancelMessage(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	_, agent := startWorker(t, func(ctx context.Context, _ *models.Task) (*TaskResult, error) {
		close(started)
		<-ctx.Done()
		close(finished)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := NewWebSocket()
	go ws.Send(ctx, Request{
		Agent:         agent,
		Task:          &models.Task{ID: "t1"},
		CorrelationID: "c-cancel",
		Deadline:      time.Now().Add(10 * time.Second),
	})
	<-started

	if err := ws.Cancel(context.Background(), agent, "c-cancel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not observe cancel")
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, agent := startWorker(t, func(context.Context, *models.Task) (*TaskResult, error) {
		return &TaskResult{}, nil
	})
	if err := NewWebSocket().Ping(context.Background(), agent); err != nil {
		t.Errorf("Ping: %v", err)
	}

	dead := models.AgentDescriptor{ID: "dead", Endpoint: "ws://127.0.0.1:1/task"}
	if err := NewWebSocket().Ping(context.Background(), dead); !IsTransient(err) {
		t.Errorf("expected transient dial error, got %v", err)
	}
}

func TestServer_LateAttemptKeepsRetryCancel(t *testing.T) {
	srv := NewServer("remote-1", nil)

	var firstCancelled, retryCancelled bool
	first := srv.track("corr-1", func() { firstCancelled = true })
	retry := srv.track("corr-1", func() { retryCancelled = true })

	srv.untrack("corr-1", first)
	if srv.InFlight() != 1 {
		t.Fatalf("expected the retry to stay in flight, got %d", srv.InFlight())
	}
	srv.cancel("corr-1")
	if !retryCancelled || firstCancelled {
		t.Errorf("cancel reached first=%v retry=%v, want only the retry", firstCancelled, retryCancelled)
	}

	srv.untrack("corr-1", retry)
	if srv.InFlight() != 0 {
		t.Errorf("expected nothing in flight, got %d", srv.InFlight())
	}
}
