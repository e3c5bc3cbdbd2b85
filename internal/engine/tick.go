// Package engine provides the tick-based simulation loop and the simulation
// aggregate it drives.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward at a fixed sim step per tick. Speed
// scales wall-clock pacing only; every tick advances sim time by Interval.
type Engine struct {
	Interval time.Duration // sim time per tick

	// OnTick runs once per tick with the tick number and the sim step.
	OnTick func(tick uint64, dt time.Duration)

	tick    atomic.Uint64
	speed   atomic.Uint64 // float64 bits; 1.0 = real-time, 0 = paused
	running atomic.Bool
	stop    chan struct{}
}

// NewEngine creates an engine with the given tick interval at real-time speed.
func NewEngine(interval time.Duration) *Engine {
	e := &Engine{Interval: interval, stop: make(chan struct{}, 1)}
	e.SetSpeed(1)
	return e
}

// Tick returns the number of ticks processed.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// SetTick sets the tick counter, e.g. when resuming.
func (e *Engine) SetTick(t uint64) { e.tick.Store(t) }

// Speed returns the pacing multiplier.
func (e *Engine) Speed() float64 { return math.Float64frombits(e.speed.Load()) }

// SetSpeed changes the pacing multiplier. Negative values pause.
func (e *Engine) SetSpeed(s float64) {
	if s < 0 {
		s = 0
	}
	e.speed.Store(math.Float64bits(s))
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool { return e.running.Load() }

// Run steps the simulation until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond
		if speed > 0 {
			start := time.Now()
			e.Step()
			wait = time.Duration(float64(e.Interval)/speed) - time.Since(start)
		}

		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.Tick(), "reason", ctx.Err())
			return
		case <-e.stop:
			slog.Info("simulation engine stopped", "tick", e.Tick())
			return
		case <-time.After(max(wait, 0)):
		}
	}
}

// Stop asks Run to return after the current tick.
func (e *Engine) Stop() {
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

// Step advances the simulation by one tick.
func (e *Engine) Step() {
	t := e.tick.Add(1)
	if e.OnTick != nil {
		e.OnTick(t, e.Interval)
	}
}
