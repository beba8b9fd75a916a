// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// time-driven code can be tested deterministically.
//
// Production code accepts a Clock parameter instead of calling
// time.Now, time.After, time.NewTicker, or time.Sleep directly.
// Real() wraps the standard library; Fake() stands still until the
// test calls Advance.
//
// # Wiring Pattern
//
// Add a Clock field to structs that keep time:
//
//	type Renewer struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	r := &Renewer{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	r := &Renewer{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1)        // goroutine has registered its ticker
//	c.Advance(time.Minute)    // fire it deterministically
//
// WaitForTimers is the important half of the fake: it closes the race
// between a background goroutine registering a timer and the test
// advancing the clock, which is otherwise papered over with real
// sleeps.
package clock
