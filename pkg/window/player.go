package window

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the autoplay step period
const DefaultInterval = 200 * time.Millisecond

// StepFunc advances playback by one step. It returns false to end the run.
// The context is cancelled once the run is stopped, and step must check it
// before mutating anything since a tick may race a Stop.
type StepFunc func(ctx context.Context) bool

// Player drives a StepFunc from a ticker goroutine. At most one run is
// active; missed ticks are dropped, never coalesced.
type Player struct {
	interval time.Duration
	step     StepFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	runID  uint64
	wg     sync.WaitGroup
}

// NewPlayer creates a stopped player
func NewPlayer(interval time.Duration, step StepFunc) *Player {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Player{interval: interval, step: step}
}

// Start begins a run. It returns false if a run is already active.
func (p *Player) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.runID++
	id := p.runID

	p.wg.Add(1)
	go p.run(ctx, id)
	return true
}

// Stop cancels the active run without waiting for it to exit
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Playing reports whether a run is active
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close stops the player and waits for every run goroutine to exit
func (p *Player) Close() {
	p.Stop()
	p.wg.Wait()
}

func (p *Player) run(ctx context.Context, id uint64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !p.step(ctx) {
				p.finish(id)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// finish clears the run if it is still the current one
func (p *Player) finish(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runID == id && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
