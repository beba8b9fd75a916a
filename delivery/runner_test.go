// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/testutil"
)

func TestRunnerTickInvokesWork(t *testing.T) {
	clk := clock.Fake(testEpoch)
	ran := make(chan struct{}, 8)
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Second,
		Work:     func(context.Context) { ran <- struct{}{} },
	})
	r.Start(t.Context())
	defer r.Stop()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	testutil.RequireReceive(t, ran, waitTimeout, "work after first tick")

	// One tick, one cycle. The pause also parks the loop before the
	// next advance.
	select {
	case <-ran:
		t.Fatal("extra cycle without a tick")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(time.Second)
	testutil.RequireReceive(t, ran, waitTimeout, "work after second tick")
}

func TestRunnerKickRunsWithoutTick(t *testing.T) {
	clk := clock.Fake(testEpoch)
	ran := make(chan struct{}, 1)
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Hour,
		Work:     func(context.Context) { ran <- struct{}{} },
	})
	r.Start(t.Context())
	defer r.Stop()

	r.Kick()
	testutil.RequireReceive(t, ran, waitTimeout, "work after kick")
}

func TestRunnerDisableSkipsCycles(t *testing.T) {
	clk := clock.Fake(testEpoch)
	ran := make(chan struct{}, 8)
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Hour,
		Work:     func(context.Context) { ran <- struct{}{} },
	})
	r.Start(t.Context())
	defer r.Stop()

	r.Disable()
	r.Kick()
	select {
	case <-ran:
		t.Fatal("work ran while disabled")
	case <-time.After(50 * time.Millisecond):
	}

	r.Enable()
	r.Kick()
	testutil.RequireReceive(t, ran, waitTimeout, "work after re-enable")
}

func TestRunnerShouldRunGate(t *testing.T) {
	clk := clock.Fake(testEpoch)
	var open atomic.Bool
	ran := make(chan struct{}, 8)
	r := NewRunner(RunnerConfig{
		Clock:     clk,
		Interval:  time.Hour,
		Work:      func(context.Context) { ran <- struct{}{} },
		ShouldRun: open.Load,
	})
	r.Start(t.Context())
	defer r.Stop()

	r.Kick()
	select {
	case <-ran:
		t.Fatal("work ran with a closed gate")
	case <-time.After(50 * time.Millisecond):
	}

	open.Store(true)
	r.Kick()
	testutil.RequireReceive(t, ran, waitTimeout, "work after gate opened")
}

func TestRunnerTickDuringWorkIsDropped(t *testing.T) {
	clk := clock.Fake(testEpoch)
	started := make(chan struct{})
	release := make(chan struct{})
	ran := make(chan struct{}, 8)
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Second,
		Work: func(context.Context) {
			ran <- struct{}{}
			started <- struct{}{}
			<-release
		},
	})
	r.Start(t.Context())
	defer r.Stop()
	defer close(release)

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	testutil.RequireReceive(t, started, waitTimeout, "first cycle underway")
	<-ran

	// This tick lands while work is blocked. It must be discarded,
	// not queued behind the running cycle.
	clk.Advance(time.Second)
	release <- struct{}{}

	select {
	case <-ran:
		t.Fatal("dropped tick still produced a cycle")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(time.Second)
	testutil.RequireReceive(t, ran, waitTimeout, "cadence resumes after drop")
	<-started
	release <- struct{}{}
}

func TestRunnerStopWaitsForWork(t *testing.T) {
	clk := clock.Fake(testEpoch)
	started := make(chan struct{})
	release := make(chan struct{})
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Hour,
		Work: func(context.Context) {
			close(started)
			<-release
		},
	})
	r.Start(t.Context())

	r.Kick()
	testutil.RequireClosed(t, started, waitTimeout, "work underway")

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while work was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	testutil.RequireClosed(t, stopped, waitTimeout, "Stop after work finished")
}

func TestRunnerStopBeforeStart(t *testing.T) {
	r := NewRunner(RunnerConfig{
		Clock:    clock.Fake(testEpoch),
		Interval: time.Second,
		Work:     func(context.Context) {},
	})
	// Must return without a goroutine to wait on.
	r.Stop()
	r.Stop()
}

func TestRunnerContextCancelStops(t *testing.T) {
	clk := clock.Fake(testEpoch)
	ran := make(chan struct{}, 8)
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Hour,
		Work:     func(context.Context) { ran <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	// Stop waits on the loop goroutine; if cancellation did not end
	// the loop this hangs and the test times out.
	r.Stop()

	r.Kick()
	select {
	case <-ran:
		t.Fatal("work ran after context cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunnerStartIsIdempotent(t *testing.T) {
	clk := clock.Fake(testEpoch)
	ran := make(chan struct{}, 8)
	r := NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: time.Hour,
		Work:     func(context.Context) { ran <- struct{}{} },
	})
	r.Start(t.Context())
	r.Start(t.Context())
	defer r.Stop()

	r.Kick()
	testutil.RequireReceive(t, ran, waitTimeout, "work after kick")
	select {
	case <-ran:
		t.Fatal("second Start launched a second loop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewRunnerPanicsOnBadConfig(t *testing.T) {
	work := func(context.Context) {}
	cases := []struct {
		name string
		cfg  RunnerConfig
	}{
		{"missing clock", RunnerConfig{Interval: time.Second, Work: work}},
		{"missing work", RunnerConfig{Clock: clock.Fake(testEpoch), Interval: time.Second}},
		{"zero interval", RunnerConfig{Clock: clock.Fake(testEpoch), Work: work}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("NewRunner did not panic")
				}
			}()
			NewRunner(tc.cfg)
		})
	}
}
