package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-sos-alerts/internal/clock"
)

// Poller runs fn immediately and then every interval until stopped. A
// stopped poller never runs fn again: the tick in flight sees its context
// cancelled and no new tick is scheduled.
type Poller struct {
	clock    clock.Clock
	interval time.Duration
	fn       func(ctx context.Context)

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   clock.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoller(clk clock.Clock, interval time.Duration, fn func(ctx context.Context)) *Poller {
	return &Poller{
		clock:    clk,
		interval: interval,
		fn:       fn,
	}
}

// Start moves the poller to running and schedules an immediate tick. It
// reports false when the poller was already running.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}

	p.running = true
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.timer = p.clock.AfterFunc(0, p.tickFunc(ctx, p.gen))

	slog.Info("alert polling started", "interval", p.interval)
	return true
}

// Stop moves the poller to idle. It does not wait for a tick in flight;
// use Wait for that. It reports false when the poller was idle.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}

	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.cancel()

	slog.Info("alert polling stopped")
	return true
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Wait blocks until the tick in flight, if any, has returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) tickFunc(ctx context.Context, gen uint64) func() {
	return func() {
		p.mu.Lock()
		if !p.running || p.gen != gen {
			p.mu.Unlock()
			return
		}
		p.wg.Add(1)
		p.mu.Unlock()

		p.fn(ctx)
		p.wg.Done()

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.running && p.gen == gen {
			p.timer = p.clock.AfterFunc(p.interval, p.tickFunc(ctx, gen))
		}
	}
}
