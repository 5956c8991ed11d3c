package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestResolve_FirstActiveInRegistrationOrder(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"design"}, Status: models.AgentStatusMaintenance})
	mustRegister(t, d, models.AgentDescriptor{ID: "b", Endpoint: "inproc://b", Capabilities: []string{"design"}})
	mustRegister(t, d, models.AgentDescriptor{ID: "c", Endpoint: "inproc://c", Capabilities: []string{"design"}})

	got, err := d.Resolve("design")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != "b" {
		t.Errorf("expected agent b, got %s", got.ID)
	}
}

func TestResolve_NotFound(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"docs"}})

	_, err := d.Resolve("security")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_CacheInvalidatedOnStatusChange(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"x"}})
	mustRegister(t, d, models.AgentDescriptor{ID: "b", Endpoint: "inproc://b", Capabilities: []string{"x"}})

	first, _ := d.Resolve("x")
	if first.ID != "a" {
		t.Fatalf("expected a, got %s", first.ID)
	}
	if err := d.SetStatus("a", models.AgentStatusError); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	second, err := d.Resolve("x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.ID != "b" {
		t.Errorf("expected fallback to b after status change, got %s", second.ID)
	}
}

func TestResolve_CacheExpires(t *testing.T) {
	d, err := New(Config{CacheSize: 4, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now()
	d.now = func() time.Time { return now }
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"x"}})

	if _, err := d.Resolve("x"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.cache.Len() != 1 {
		t.Fatalf("expected one cached entry, got %d", d.cache.Len())
	}
	now = now.Add(2 * time.Minute)
	if _, err := d.Resolve("x"); err != nil {
		t.Fatalf("Resolve after ttl: %v", err)
	}
	entry, _ := d.cache.Get("x")
	if !entry.storedAt.Equal(now) {
		t.Error("expected stale entry to be refreshed")
	}
}

func TestResolve_ReturnsCopy(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"x"}})

	got, _ := d.Resolve("x")
	got.Capabilities[0] = "mutated"
	got.Status = models.AgentStatusError

	again, err := d.Resolve("x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again.Capabilities[0] != "x" || again.Status != models.AgentStatusActive {
		t.Error("caller mutation leaked into directory")
	}
}

func TestRegister_Validation(t *testing.T) {
	d := newTestDirectory(t)
	if err := d.Register(models.AgentDescriptor{Endpoint: "x"}); err == nil {
		t.Error("expected error for missing id")
	}
	if err := d.Register(models.AgentDescriptor{ID: "a"}); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if err := d.Register(models.AgentDescriptor{ID: "a", Endpoint: "x", Status: "broken"}); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestUnregister(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"x"}})
	if _, err := d.Resolve("x"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d.Unregister("a")
	if _, err := d.Resolve("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after unregister, got %v", err)
	}
	if len(d.All()) != 0 {
		t.Error("expected empty directory")
	}
}

func TestDirectory_ConcurrentReads(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "a", Endpoint: "inproc://a", Capabilities: []string{"x"}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = d.Resolve("x")
			}
		}()
		go func() {
			defer wg.Done()
			d.Touch("a", time.Now())
		}()
	}
	wg.Wait()
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  - id: architect
    name: Architect
    capabilities: [design, review]
    endpoint: ws://127.0.0.1:7411/task
    version: "1.2"
  - id: docs
    capabilities: [docs]
    endpoint: ws://127.0.0.1:7412/task
    status: maintenance
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	d := newTestDirectory(t)
	if err := d.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	all := d.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(all))
	}
	if all[0].Status != models.AgentStatusActive {
		t.Errorf("expected default status active, got %s", all[0].Status)
	}
	if all[1].Status != models.AgentStatusMaintenance {
		t.Errorf("expected maintenance, got %s", all[1].Status)
	}
	if _, err := d.Resolve("docs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected maintenance agent to be unresolvable, got %v", err)
	}
}

func TestParseAgents_Duplicate(t *testing.T) {
	_, err := ParseAgents([]byte("agents:\n  - {id: a, endpoint: x}\n  - {id: a, endpoint: y}\n"))
	if err == nil {
		t.Error("expected duplicate id error")
	}
}

type fakePinger struct {
	mu   sync.Mutex
	down map[string]bool
}

func (f *fakePinger) Ping(_ context.Context, a models.AgentDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[a.ID] {
		return errors.New("unreachable")
	}
	return nil
}

func TestProber_ProbeAll(t *testing.T) {
	d := newTestDirectory(t)
	mustRegister(t, d, models.AgentDescriptor{ID: "up", Endpoint: "inproc://up", Capabilities: []string{"x"}})
	mustRegister(t, d, models.AgentDescriptor{ID: "down", Endpoint: "inproc://down", Capabilities: []string{"y"}})
	mustRegister(t, d, models.AgentDescriptor{ID: "off", Endpoint: "inproc://off", Status: models.AgentStatusInactive})

	pinger := &fakePinger{down: map[string]bool{"down": true, "off": true}}
	p := NewProber(d, pinger, time.Minute)
	if err := p.ProbeAll(context.Background()); err != nil {
		t.Fatalf("ProbeAll: %v", err)
	}

	up, _ := d.Get("up")
	if up.LastSeen.IsZero() {
		t.Error("expected LastSeen to be recorded")
	}
	down, _ := d.Get("down")
	if down.Status != models.AgentStatusError {
		t.Errorf("expected error status, got %s", down.Status)
	}
	off, _ := d.Get("off")
	if off.Status != models.AgentStatusInactive {
		t.Errorf("expected inactive agent to be skipped, got %s", off.Status)
	}

	pinger.mu.Lock()
	pinger.down["down"] = false
	pinger.mu.Unlock()
	if err := p.ProbeAll(context.Background()); err != nil {
		t.Fatalf("ProbeAll: %v", err)
	}
	if _, err := d.Resolve("y"); err != nil {
		t.Errorf("expected recovered agent to resolve, got %v", err)
	}
}

func mustRegister(t *testing.T, d *Directory, a models.AgentDescriptor) {
	t.Helper()
	if err := d.Register(a); err != nil {
		t.Fatalf("Register(%s): %v", a.ID, err)
	}
}
