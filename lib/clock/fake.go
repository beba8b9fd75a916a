// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to initial. The clock stands still
// until Advance is called; After, NewTicker, and Sleep register
// waiters that fire when the clock crosses their deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.arrivals = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Waiters are kept in
// deadline order, so one Advance that crosses several deadlines fires
// them earliest first, and a partial advance fires only the waiters
// it actually reached.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time

	// pending is sorted by due, earliest first. Stopped waiters stay
	// in place and are discarded when they reach the front.
	pending  []*waiter
	arrivals *sync.Cond
}

// waiter is one pending After, Sleep, or ticker registration.
type waiter struct {
	due  time.Time
	tick chan time.Time

	// period is non-zero for tickers: the waiter re-enters the
	// pending list at due + period after each fire.
	period time.Duration

	// dead is set by Ticker.Stop. A dead waiter never fires.
	dead bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock is advanced to
// or past the deadline. A non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	tick := make(chan time.Time, 1)
	if d <= 0 {
		tick <- c.now
		return tick
	}
	c.insert(&waiter{due: c.now.Add(d), tick: tick})
	return tick
}

// NewTicker returns a Ticker firing every d of advanced time. Panics
// if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &waiter{due: c.now.Add(d), tick: make(chan time.Time, 1), period: d}
	c.insert(w)
	return &Ticker{
		C: w.tick,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.dead = true
		},
	}
}

// Sleep blocks until the clock is advanced past the deadline. A
// non-positive d returns immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline the move crossed, earliest deadline first. Sends are
// non-blocking to match time.Ticker: a full tick channel drops the
// tick instead of queueing it. A move across several ticker periods
// fires the ticker once per period, with the surplus dropped by the
// one-slot buffer.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for len(c.pending) > 0 {
		w := c.pending[0]
		if w.dead {
			c.pending = c.pending[1:]
			continue
		}
		if w.due.After(c.now) {
			break
		}
		c.pending = c.pending[1:]
		select {
		case w.tick <- c.now:
		default:
		}
		if w.period > 0 {
			w.due = w.due.Add(w.period)
			c.insert(w)
		}
	}
}

// insert places w into the pending list in deadline order, after any
// waiter sharing its deadline. Caller holds c.mu.
func (c *FakeClock) insert(w *waiter) {
	i := sort.Search(len(c.pending), func(i int) bool {
		return c.pending[i].due.After(w.due)
	})
	c.pending = slices.Insert(c.pending, i, w)
	c.arrivals.Broadcast()
}

// WaitForTimers blocks until at least n live waiters are registered.
// This is the handshake between a goroutine arming a timer and the
// test advancing the clock: arm, WaitForTimers, Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveLocked() < n {
		c.arrivals.Wait()
	}
}

// PendingCount reports the number of live waiters. Stopped tickers
// are excluded even before they are discarded.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked()
}

func (c *FakeClock) liveLocked() int {
	n := 0
	for _, w := range c.pending {
		if !w.dead {
			n++
		}
	}
	return n
}
