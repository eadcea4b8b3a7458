// Package worker provides the fixed-interval worker handle shared by the
// generator, the broadcaster and the pose recorder.
//
// A Periodic owns exactly one goroutine while running. Start is a no-op when
// already running, Stop cancels the goroutine's context and waits for it to
// return. Cancelling the context passed to Start also moves the worker to
// Stopped, after which it may be started again. A panic inside a tick is
// recovered and logged; the next tick runs normally.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/slamviz/internal/monitoring"
)

// State is the lifecycle state of a worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// TickFunc is one unit of periodic work.
type TickFunc func(ctx context.Context)

// Config configures a Periodic worker.
type Config struct {
	// Name is used in log messages.
	Name string

	// Interval between ticks. The first tick runs immediately on Start.
	Interval time.Duration

	// Clock drives the ticker. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger defaults to monitoring.Component(Name).
	Logger *slog.Logger

	// OnPanic is called with the recovered value after a tick panics.
	OnPanic func(recovered any)
}

// Periodic runs a TickFunc at a fixed interval on its own goroutine.
type Periodic struct {
	cfg  Config
	tick TickFunc
	log  *slog.Logger

	// mu serialises Start and Stop; held across the join in Stop.
	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	ticks    atomic.Uint64
	failures atomic.Uint64
}

// NewPeriodic creates a worker in the Idle state.
func NewPeriodic(cfg Config, tick TickFunc) *Periodic {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = monitoring.Component(cfg.Name)
	}
	done := make(chan struct{})
	close(done)
	return &Periodic{
		cfg:  cfg,
		tick: tick,
		log:  cfg.Logger,
		done: done,
	}
}

// Start launches the worker goroutine. It reports false, and does nothing,
// when the worker is already running. A stopped worker may be started again.
func (p *Periodic) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateRunning {
		p.log.Info("start ignored, already running", "worker", p.cfg.Name)
		return false
	}

	// Joins a goroutine that exited on parent cancellation.
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)

	p.state.Store(int32(StateRunning))
	p.wg.Add(1)
	go p.run(runCtx, ticker, p.done)

	p.log.Debug("worker started", "worker", p.cfg.Name, "interval", p.cfg.Interval)
	return true
}

// Stop cancels the worker and blocks until its goroutine has exited. It
// reports false, and does nothing, when the worker is not running.
func (p *Periodic) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != StateRunning {
		p.wg.Wait()
		p.log.Info("stop ignored, not running", "worker", p.cfg.Name, "state", p.State().String())
		return false
	}

	// Stopped is stored first so run can tell Stop from parent cancellation.
	p.state.Store(int32(StateStopped))
	p.cancel()
	p.wg.Wait()

	p.log.Debug("worker stopped", "worker", p.cfg.Name, "ticks", p.ticks.Load())
	return true
}

// State returns the current lifecycle state.
func (p *Periodic) State() State {
	return State(p.state.Load())
}

// Done returns a channel closed once the current (or last) worker goroutine
// has exited. It is already closed for an Idle worker.
func (p *Periodic) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Ticks returns the number of ticks that completed without panicking.
func (p *Periodic) Ticks() uint64 {
	return p.ticks.Load()
}

// Failures returns the number of ticks that panicked.
func (p *Periodic) Failures() uint64 {
	return p.failures.Load()
}

func (p *Periodic) run(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer p.wg.Done()
	defer close(done)
	defer ticker.Stop()

	p.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			if p.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
				p.log.Info("worker exited, context done", "worker", p.cfg.Name, "ticks", p.ticks.Load())
			}
			return
		case <-ticker.Chan():
			p.runTick(ctx)
		}
	}
}

func (p *Periodic) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.failures.Add(1)
			p.log.Error("tick panicked", "worker", p.cfg.Name, "panic", r)
			if p.cfg.OnPanic != nil {
				p.cfg.OnPanic(r)
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}
	p.tick(ctx)
	p.ticks.Add(1)
}
