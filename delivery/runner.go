// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drover-build/drover/lib/clock"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Clock drives the cycle timer.
	Clock clock.Clock

	// Interval is the delay between work cycles. The delay runs
	// between cycles, not back-to-back from cycle start: a cycle that
	// takes longer than the interval pushes the next one out rather
	// than piling up.
	Interval time.Duration

	// Work is invoked once per cycle, synchronously on the runner's
	// goroutine. Work owns its own error handling; the runner keeps
	// cycling no matter what Work does.
	Work func(ctx context.Context)

	// ShouldRun, when set, is consulted before each cycle. A false
	// return skips the cycle without stopping the timer.
	ShouldRun func() bool
}

// Runner invokes a work function on a fixed cadence. It is the
// shared engine behind every queue's flush loop and the lease
// renewer.
//
// One goroutine, started by [Runner.Start], owns all Work
// invocations, so cycles never overlap. A timer tick that fires
// while Work is running is dropped, not queued: the next cycle is
// always a full interval (or an explicit [Runner.Kick]) away.
type Runner struct {
	clock     clock.Clock
	interval  time.Duration
	work      func(ctx context.Context)
	shouldRun func() bool

	enabled  atomic.Bool
	started  atomic.Bool
	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a Runner. The runner starts enabled; call
// [Runner.Start] to launch the cycle goroutine. Panics if Clock,
// Work, or a positive Interval is missing, since a runner without
// them can never cycle.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		panic("delivery: Runner requires a Clock")
	}
	if cfg.Work == nil {
		panic("delivery: Runner requires a Work function")
	}
	if cfg.Interval <= 0 {
		panic("delivery: Runner requires a positive Interval")
	}
	runner := &Runner{
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		work:      cfg.Work,
		shouldRun: cfg.ShouldRun,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	runner.enabled.Store(true)
	return runner
}

// Start launches the cycle goroutine. The runner stops when ctx is
// cancelled or [Runner.Stop] is called.
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop(ctx)
}

// Enable allows work cycles to run.
func (r *Runner) Enable() { r.enabled.Store(true) }

// Disable skips work cycles without stopping the timer. An in-flight
// cycle is not interrupted.
func (r *Runner) Disable() { r.enabled.Store(false) }

// Kick requests an immediate cycle without waiting for the next
// tick. Multiple kicks before the goroutine wakes coalesce into one.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stop ends the cycle goroutine and waits for any in-flight Work
// invocation to return. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.done
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
		case <-r.kick:
		}

		if !r.enabled.Load() {
			continue
		}
		if r.shouldRun != nil && !r.shouldRun() {
			continue
		}

		r.work(ctx)

		// Drop a tick that fired while work ran, so the next cycle
		// is a full interval away instead of immediate.
		select {
		case <-ticker.C:
		default:
		}
	}
}
