// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/secretmask"
)

const (
	// maxConsoleLineLength is the longest line the live console
	// feed accepts, in characters.
	maxConsoleLineLength = 512

	// truncatedLineLength is how many characters of an over-long
	// line survive before the truncation marker.
	truncatedLineLength = 509

	// truncationMarker replaces the tail of an over-long line.
	truncationMarker = "..."

	// sectionPrefix marks a line as a section header in the live
	// feed.
	sectionPrefix = "##[section] "
)

// consoleQueue batches lines for the job's live console feed. Lines
// are truncated and masked at append time, preserved in order, and
// shipped as one feed append per flush.
//
// The live feed is a best-effort preview; the paged full log is the
// durable copy. A failed flush drops its batch.
type consoleQueue struct {
	queue  *queue[string]
	masker *secretmask.Masker
}

// feedShipper is the slice of the coordinator the console queue
// needs.
type feedShipper interface {
	AppendTimelineFeed(ctx context.Context, plan jobref.PlanID, tl jobref.TimelineID, job jobref.JobID, lines []string) error
}

func newConsoleQueue(clk clock.Clock, interval time.Duration, logger *slog.Logger, shipper feedShipper, masker *secretmask.Masker, plan jobref.PlanID, tl jobref.TimelineID, job jobref.JobID) *consoleQueue {
	cq := &consoleQueue{masker: masker}
	cq.queue = newQueue("console", clk, interval, logger,
		func(ctx context.Context, batch []string) error {
			return shipper.AppendTimelineFeed(ctx, plan, tl, job, batch)
		})
	return cq
}

// Append queues one line for the live feed. Lines longer than 512
// characters are cut to 509 plus "..."; truncation counts
// characters, not bytes, so a multi-byte rune is never split.
// Masking runs after truncation.
func (cq *consoleQueue) Append(line string) {
	if runes := []rune(line); len(runes) > maxConsoleLineLength {
		line = string(runes[:truncatedLineLength]) + truncationMarker
	}
	cq.queue.Push(cq.masker.Mask(line))
}

// Section queues a section-header line. The prefix goes through the
// same truncate-and-mask path as any other line.
func (cq *consoleQueue) Section(line string) {
	cq.Append(sectionPrefix + line)
}
