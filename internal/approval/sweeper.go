package approval

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically expires due requests.
type Sweeper struct {
	gate *Gate
	cron *cron.Cron
}

// NewSweeper schedules ExpireDue every SweepInterval of the gate config.
func NewSweeper(gate *Gate) (*Sweeper, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", gate.cfg.SweepInterval)
	if _, err := c.AddFunc(spec, func() {
		n, err := gate.ExpireDue(context.Background())
		if err != nil {
			log.Printf("[approval] sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[approval] sweep expired %d request(s)", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", spec, err)
	}
	return &Sweeper{gate: gate, cron: c}, nil
}

// Start runs the sweeper in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
