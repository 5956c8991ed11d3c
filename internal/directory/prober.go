package directory

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/warden/pkg/models"
)

const defaultProbeConcurrency = 8

// Pinger checks whether an agent is reachable.
type Pinger interface {
	Ping(ctx context.Context, agent models.AgentDescriptor) error
}

// Prober periodically pings agents and updates their directory status.
type Prober struct {
	dir         *Directory
	pinger      Pinger
	interval    time.Duration
	concurrency int
}

// NewProber creates a prober that checks every agent once per interval.
func NewProber(dir *Directory, pinger Pinger, interval time.Duration) *Prober {
	return &Prober{
		dir:         dir,
		pinger:      pinger,
		interval:    interval,
		concurrency: defaultProbeConcurrency,
	}
}

// ProbeAll pings every active or errored agent concurrently. A failed ping
// marks the agent error; a successful one records LastSeen.
func (p *Prober) ProbeAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, agent := range p.dir.All() {
		if agent.Status == models.AgentStatusInactive || agent.Status == models.AgentStatusMaintenance {
			continue
		}
		agent := agent
		g.Go(func() error {
			if err := p.pinger.Ping(gctx, agent); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("[directory] probe %s failed: %v", agent.ID, err)
				if err := p.dir.SetStatus(agent.ID, models.AgentStatusError); err != nil {
					log.Printf("[directory] mark %s error: %v", agent.ID, err)
				}
				return nil
			}
			p.dir.Touch(agent.ID, time.Now())
			return nil
		})
	}
	return g.Wait()
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.ProbeAll(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[directory] probe round: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
