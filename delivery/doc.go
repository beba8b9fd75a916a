// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery moves a job run's telemetry and results to the
// coordinator: timeline record updates, live console lines, paged
// full logs, lease renewals, and deferred result commands such as
// artifact publication.
//
// The architecture is a set of periodically flushed queues behind one
// facade, the [Channel]. Producers (the step runner) push into queues
// and return immediately; each queue's own goroutine snapshots the
// accumulated batch on a timer and ships it. A slow or failing
// coordinator therefore never blocks step execution. The cost is the
// delivery guarantee: each batch is attempted once, and a failed
// batch is logged and dropped, never retried. Timeline updates
// tolerate this because records are merged server-side by ID and the
// next window re-sends current state; console lines tolerate it
// because the paged full log is the durable copy.
//
// Queue lifecycle: push, Close (no further pushes), Drain (resolves
// once everything pushed has been flushed, returning the first flush
// error). [Channel.Close] runs the drain protocol across all queues
// in the order the data dependencies require: the command queue
// first (its flushes still append console lines), then console and
// log pages, and the timeline queue last, closing only after the log
// page queue has drained so that every log reference lands on a
// record update that is still deliverable.
//
// All timing goes through lib/clock, so every flush cadence in this
// package is deterministic under test.
package delivery
