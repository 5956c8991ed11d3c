// Package directory maps capabilities to reachable worker agents.
package directory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ShayCichocki/warden/pkg/models"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 30 * time.Second
)

// ErrNotFound is returned when no active agent serves a capability.
var ErrNotFound = errors.New("no active agent for capability")

// Resolver maps a capability to a worker.
type Resolver interface {
	Resolve(capability string) (*models.AgentDescriptor, error)
}

// Config configures the directory resolution cache.
type Config struct {
	// CacheSize is the maximum number of cached resolutions.
	CacheSize int
	// CacheTTL is how long a cached resolution remains valid.
	CacheTTL time.Duration
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() Config {
	return Config{CacheSize: defaultCacheSize, CacheTTL: defaultCacheTTL}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %v", c.CacheTTL)
	}
	return nil
}

// cacheEntry holds a resolution along with the time it was stored.
type cacheEntry struct {
	agentID  string
	storedAt time.Time
}

// Directory is a read-mostly registry of agents safe for concurrent use.
// Resolve returns the first active agent, in registration order, that
// serves the capability.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentDescriptor
	order  []string

	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

// New creates an empty directory.
func New(cfg Config) (*Directory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory config: %w", err)
	}
	cache, err := lru.New[string, cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolution cache: %w", err)
	}
	return &Directory{
		agents: make(map[string]*models.AgentDescriptor),
		cache:  cache,
		ttl:    cfg.CacheTTL,
		now:    time.Now,
	}, nil
}

// Register adds or replaces an agent. A missing status defaults to active.
func (d *Directory) Register(agent models.AgentDescriptor) error {
	if agent.ID == "" {
		return errors.New("agent id is required")
	}
	if agent.Endpoint == "" {
		return fmt.Errorf("agent %s: endpoint is required", agent.ID)
	}
	if agent.Status == "" {
		agent.Status = models.AgentStatusActive
	}
	if !agent.Status.Valid() {
		return fmt.Errorf("agent %s: invalid status %q", agent.ID, agent.Status)
	}

	a := agent.Clone()
	d.mu.Lock()
	if _, exists := d.agents[a.ID]; !exists {
		d.order = append(d.order, a.ID)
	}
	d.agents[a.ID] = &a
	d.mu.Unlock()

	d.cache.Purge()
	return nil
}

// Unregister removes an agent. Removing an unknown agent is a no-op.
func (d *Directory) Unregister(id string) {
	d.mu.Lock()
	if _, ok := d.agents[id]; ok {
		delete(d.agents, id)
		for i, oid := range d.order {
			if oid == id {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
	d.mu.Unlock()

	d.cache.Purge()
}

// SetStatus changes the directory status of an agent.
func (d *Directory) SetStatus(id string, status models.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}
	d.mu.Lock()
	a, ok := d.agents[id]
	if ok {
		a.Status = status
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}

	d.cache.Purge()
	return nil
}

// Touch records a successful liveness check. An agent in error status is
// returned to active; inactive and maintenance are left alone.
func (d *Directory) Touch(id string, at time.Time) {
	d.mu.Lock()
	a, ok := d.agents[id]
	changed := false
	if ok {
		a.LastSeen = at
		if a.Status == models.AgentStatusError {
			a.Status = models.AgentStatusActive
			changed = true
		}
	}
	d.mu.Unlock()

	if changed {
		d.cache.Purge()
	}
}

// Get returns a copy of the agent with the given id.
func (d *Directory) Get(id string) (*models.AgentDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return nil, false
	}
	c := a.Clone()
	return &c, true
}

// All returns copies of every agent in registration order.
func (d *Directory) All() []models.AgentDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.AgentDescriptor, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.agents[id].Clone())
	}
	return out
}

// Resolve returns a copy of the first active agent serving capability.
func (d *Directory) Resolve(capability string) (*models.AgentDescriptor, error) {
	if entry, ok := d.cache.Get(capability); ok {
		if d.ttl == 0 || d.now().Sub(entry.storedAt) < d.ttl {
			if a, ok := d.Get(entry.agentID); ok && a.Status == models.AgentStatusActive {
				return a, nil
			}
		}
		d.cache.Remove(capability)
	}

	d.mu.RLock()
	var found *models.AgentDescriptor
	for _, id := range d.order {
		a := d.agents[id]
		if a.Status == models.AgentStatusActive && a.HasCapability(capability) {
			c := a.Clone()
			found = &c
			break
		}
	}
	d.mu.RUnlock()

	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, capability)
	}
	d.cache.Add(capability, cacheEntry{agentID: found.ID, storedAt: d.now()})
	return found, nil
}

var _ Resolver = (*Directory)(nil)
