// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drover-build/drover/lib/clock"
)

// flushFunc ships one snapshot batch. The batch is already removed
// from the queue when the function runs: an error means the batch is
// lost, and the queue records it (first error sticks) and moves on.
type flushFunc[T any] func(ctx context.Context, batch []T) error

// queue is the shared flush machinery behind the delivery queues: an
// ordered accumulator, a Runner that snapshots and ships it on a
// cadence, and the Close/Drain lifecycle.
//
// Ordering and loss guarantees come from the snapshot discipline.
// Push appends under the mutex; a flush cycle takes the whole slice
// and replaces it with nil, so every item lands in exactly one batch
// and batches preserve push order. Pushes that arrive while a flush
// is in flight go to the next batch. Only the runner goroutine calls
// flushOnce, so at most one flush is ever in flight without any
// additional locking.
type queue[T any] struct {
	name   string
	logger *slog.Logger
	flush  flushFunc[T]
	runner *Runner

	mu       sync.Mutex
	items    []T
	closed   bool
	flushing bool
	flushErr error
	// idle is closed whenever the queue is empty with no flush in
	// flight, and replaced with a fresh channel when it becomes busy
	// again. Drain and WaitIdle wait on it.
	idle       chan struct{}
	idleClosed bool
	closedCh   chan struct{}
	// onSnapshot, when set, runs under the mutex at the moment a
	// batch is taken. The record queue uses it to reset its key map
	// in the same critical section.
	onSnapshot func()
}

func newQueue[T any](name string, clk clock.Clock, interval time.Duration, logger *slog.Logger, flush flushFunc[T]) *queue[T] {
	q := &queue[T]{
		name:     name,
		logger:   logger,
		flush:    flush,
		idle:     make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	// Starts empty, so it starts idle.
	close(q.idle)
	q.idleClosed = true

	q.runner = NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: interval,
		Work:     q.flushOnce,
	})
	return q
}

// Start launches the flush loop.
func (q *queue[T]) Start(ctx context.Context) { q.runner.Start(ctx) }

// Stop ends the flush loop, waiting for an in-flight flush. Items
// still queued stay queued; call Close and Drain first for an
// orderly finish.
func (q *queue[T]) Stop() { q.runner.Stop() }

// Push appends an item to the current batch. Pushes after Close are
// dropped.
func (q *queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("push after close dropped", "queue", q.name)
		return
	}
	q.items = append(q.items, item)
	q.updateIdleLocked()
}

// Mutate runs fn under the queue mutex, giving it a push function
// that appends atomically with whatever else fn reads or writes. The
// record queue's get-or-add needs the key lookup and the append to
// be one critical section; everything else uses Push.
func (q *queue[T]) Mutate(fn func(push func(T))) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(func(item T) {
		if q.closed {
			q.logger.Warn("push after close dropped", "queue", q.name)
			return
		}
		q.items = append(q.items, item)
	})
	q.updateIdleLocked()
}

// Close marks the end of input: subsequent pushes are dropped. The
// runner is kicked so remaining items flush immediately rather than
// waiting out the interval.
func (q *queue[T]) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.closedCh)
	}
	q.mu.Unlock()
	q.runner.Kick()
}

// Drain blocks until the queue is closed and everything pushed has
// been through a flush, then returns the first flush error (nil when
// every batch shipped clean). Callable before Close; it then waits
// for Close first.
func (q *queue[T]) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.closed && q.isIdleLocked() {
			err := q.flushErr
			q.mu.Unlock()
			return err
		}
		closed := q.closed
		closedCh := q.closedCh
		idle := q.idle
		q.mu.Unlock()

		if !closed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-closedCh:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// WaitIdle blocks until everything currently queued has been through
// a flush. Unlike Drain it does not require Close: the queue keeps
// accepting pushes afterward. The runner is kicked so the wait does
// not ride out the flush interval.
func (q *queue[T]) WaitIdle(ctx context.Context) error {
	q.runner.Kick()
	for {
		q.mu.Lock()
		if q.isIdleLocked() {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// Err returns the sticky first flush error.
func (q *queue[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushErr
}

// pending returns how many items await the next snapshot.
func (q *queue[T]) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// flushOnce is the runner's work function: snapshot, ship, record
// the outcome. Runs only on the runner goroutine.
func (q *queue[T]) flushOnce(ctx context.Context) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.items
	q.items = nil
	if q.onSnapshot != nil {
		q.onSnapshot()
	}
	q.flushing = true
	q.updateIdleLocked()
	q.mu.Unlock()

	err := q.flush(ctx, batch)

	q.mu.Lock()
	q.flushing = false
	if err != nil {
		q.logger.Warn("flush failed, batch dropped",
			"queue", q.name,
			"items", len(batch),
			"error", err,
		)
		if q.flushErr == nil {
			q.flushErr = err
		}
	}
	again := q.closed && len(q.items) > 0
	q.updateIdleLocked()
	q.mu.Unlock()

	// After Close, chase down items that arrived during the flush
	// instead of waiting out the interval.
	if again {
		q.runner.Kick()
	}
}

func (q *queue[T]) isIdleLocked() bool {
	return len(q.items) == 0 && !q.flushing
}

// updateIdleLocked keeps the idle channel in sync with the queue
// state: closed while idle, fresh and open while busy.
func (q *queue[T]) updateIdleLocked() {
	if q.isIdleLocked() {
		if !q.idleClosed {
			close(q.idle)
			q.idleClosed = true
		}
		return
	}
	if q.idleClosed {
		q.idle = make(chan struct{})
		q.idleClosed = false
	}
}
