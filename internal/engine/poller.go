package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Poller refreshes poll-only adapters on a fixed interval.
type Poller struct {
	interval time.Duration

	mu       sync.Mutex
	adapters []*polled
}

type polled struct {
	adapter Adapter
	busy    atomic.Bool
}

// NewPoller creates a poller. A zero interval defaults to 30s.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{interval: interval}
}

// Add registers an adapter for polling.
func (p *Poller) Add(a Adapter) {
	p.mu.Lock()
	p.adapters = append(p.adapters, &polled{adapter: a})
	p.mu.Unlock()
}

// Len returns the number of polled adapters.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.adapters)
}

// Run polls until ctx is cancelled. Each adapter is refreshed on its own
// goroutine so a slow device does not delay the others. An adapter whose
// previous refresh is still running is skipped for that tick.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Int("devices", p.Len()).Msg("Poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopping")
			return nil
		case <-ticker.C:
			p.mu.Lock()
			targets := append([]*polled(nil), p.adapters...)
			p.mu.Unlock()

			for _, t := range targets {
				if !t.busy.CompareAndSwap(false, true) {
					log.Debug().Str("device", t.adapter.ID()).Msg("Previous refresh still running, skipping")
					continue
				}
				wg.Add(1)
				go func(t *polled) {
					defer wg.Done()
					defer t.busy.Store(false)
					t.adapter.RequestRefresh(ctx)
				}(t)
			}
		}
	}
}
