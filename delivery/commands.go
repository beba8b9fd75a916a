// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/jobref"
)

// Command is a deferred result operation, such as publishing an
// artifact, that runs on the command queue's goroutine instead of
// blocking the step that requested it.
type Command struct {
	// Record is the timeline record the command reports under.
	Record jobref.RecordID

	// Name identifies the command in console output and logs.
	Name string

	// Run performs the operation. The returned lines are appended to
	// the console feed whether or not Run fails.
	Run func(ctx context.Context) ([]string, error)
}

// commandQueue executes deferred commands strictly in order. The
// first failure is terminal for the whole queue: its error is held
// for the task's verdict, and every later command is consumed
// without running. Flushes never report an error upward; a command
// failure is task state, not a delivery failure.
type commandQueue struct {
	queue  *queue[Command]
	logger *slog.Logger
	// lines appends one line to the console feed.
	lines func(line string)

	mu      sync.Mutex
	failed  bool
	lastErr error
}

func newCommandQueue(clk clock.Clock, interval time.Duration, logger *slog.Logger, lines func(string)) *commandQueue {
	cq := &commandQueue{
		logger: logger,
		lines:  lines,
	}
	cq.queue = newQueue("commands", clk, interval, logger, cq.flushBatch)
	return cq
}

// Enqueue queues a command. Commands run in enqueue order.
func (cq *commandQueue) Enqueue(command Command) { cq.queue.Push(command) }

// Failed reports whether any command has failed. Once set it never
// clears.
func (cq *commandQueue) Failed() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.failed
}

// Err returns the first command failure, nil while everything has
// succeeded.
func (cq *commandQueue) Err() error {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.lastErr
}

func (cq *commandQueue) flushBatch(ctx context.Context, batch []Command) error {
	for _, command := range batch {
		if cq.Failed() {
			cq.logger.Info("command skipped after earlier failure",
				"command", command.Name,
				"record", command.Record,
			)
			continue
		}

		lines, err := command.Run(ctx)
		for _, line := range lines {
			cq.lines(line)
		}
		if err != nil {
			cq.setFailure(err)
			cq.lines(fmt.Sprintf("command %q failed: %v", command.Name, err))
			cq.logger.Warn("command failed, failing the task",
				"command", command.Name,
				"record", command.Record,
				"error", err,
			)
		}
	}
	return nil
}

func (cq *commandQueue) setFailure(err error) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if !cq.failed {
		cq.failed = true
		cq.lastErr = err
	}
}
