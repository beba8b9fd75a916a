// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the worker depends on. Production
// code injects Real(); tests inject Fake() and advance time explicitly.
//
// Anything that waits, ticks, or timestamps should take a Clock (or be
// a method on a struct carrying one) rather than calling the time
// package directly. The delivery queues and the lease renewer are all
// driven through this interface, which is what makes their scheduling
// testable without wall-clock sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on its C channel
	// every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. Call Stop when done to release
// the underlying timer.
//
// C is buffered with capacity 1, matching time.Ticker: if the consumer
// falls behind, ticks are dropped rather than queued. The flush runners
// rely on this, so a slow flush never builds up a backlog of ticks.
type Ticker struct {
	// C delivers ticks. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No ticks are delivered after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
