// Package poll provides the auto-refresh primitive used by live views: run an
// action now, then every interval, until stopped. Exactly one Poller belongs
// to one logical live view, and the view's teardown path must call Stop.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MinInterval bounds the request rate. Intervals are clamped whenever a
// caller sets one; an already-running timer keeps its cadence until the next
// stop/restart cycle.
const MinInterval = 10 * time.Second

// Action is invoked once per tick. The context is cancelled when the poller
// stops, so long fetches abort promptly.
type Action func(ctx context.Context)

// subscription is one timer incarnation. Stopping cancels its context and
// joins the timer goroutine, so cancellation is synchronous and total.
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	ticks  atomic.Int64
}

// Poller owns at most one active subscription.
type Poller struct {
	mu        sync.Mutex
	action    Action
	interval  time.Duration
	sub       *subscription
	lastTicks int64
}

// New builds an inactive Poller. The interval is clamped to MinInterval.
func New(action Action, interval time.Duration) *Poller {
	return &Poller{action: action, interval: ClampInterval(interval)}
}

// ClampInterval raises an interval to the configured minimum.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Start runs tick 0 immediately, then ticks every interval. No-op when
// already active.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	p.sub = sub
	interval := p.interval
	action := p.action
	p.mu.Unlock()

	// Tick 0 fires before the first interval elapses, and before Start
	// returns, so an immediate Stop still observes exactly one call.
	sub.ticks.Add(1)
	action(ctx)

	go func() {
		defer close(sub.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				sub.ticks.Add(1)
				action(ctx)
			}
		}
	}()
}

// Stop cancels the active subscription and waits for the timer goroutine to
// exit: once Stop returns, no further tick fires. It performs no extra fetch.
// No-op when inactive.
func (p *Poller) Stop() {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	if sub != nil {
		p.lastTicks = sub.ticks.Load()
	}
	p.mu.Unlock()

	if sub == nil {
		return
	}
	sub.cancel()
	<-sub.done
	p.mu.Lock()
	p.lastTicks = sub.ticks.Load()
	p.mu.Unlock()
}

// SetInterval updates the cadence, clamped to MinInterval. When active, the
// poller stops and restarts so the new cadence takes effect immediately,
// which fires tick 0 again.
func (p *Poller) SetInterval(interval time.Duration) {
	p.mu.Lock()
	p.interval = ClampInterval(interval)
	active := p.sub != nil
	p.mu.Unlock()

	if active {
		p.Stop()
		p.Start()
	}
}

// Interval returns the current (clamped) cadence.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Active reports whether a subscription is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

// TickCount returns the tick count of the active subscription, or of the
// most recently stopped one.
func (p *Poller) TickCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return p.sub.ticks.Load()
	}
	return p.lastTicks
}
