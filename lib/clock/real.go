// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns the wall-clock Clock used outside tests.
//
// A worker process constructs exactly one and threads it through the
// delivery channel; nothing else in the binary should reach for the
// time package's scheduling functions directly.
func Real() Clock { return systemClock{} }

// systemClock delegates straight to package time.
type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
