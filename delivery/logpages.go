// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
)

// Page is one staged chunk of a timeline record's full log: a local
// file cut by the [PageWriter], waiting to be uploaded under the
// record's server-side log.
type Page struct {
	// Record owns the log this page belongs to.
	Record jobref.RecordID

	// Path is the staged page file. The queue deletes it after a
	// successful upload.
	Path string
}

// logShipper is the slice of the coordinator the log page queue
// needs.
type logShipper interface {
	CreateLog(ctx context.Context, plan jobref.PlanID, logPath string) (timeline.LogRef, error)
	UploadLogFile(ctx context.Context, plan jobref.PlanID, logID int, localPath string) error
}

// logCreation memoizes the outcome of the one create-log attempt a
// record ever gets. Failed creations are memoized too: retrying
// could mint a second server-side log, and page uploads would split
// across the two.
type logCreation struct {
	ref timeline.LogRef
	err error
}

// logPageQueue uploads staged log pages in order. Each page runs
// the log pipeline: create the record's server-side log (once per
// record, memoized for the queue's lifetime, with the log reference
// associated onto the timeline record at creation), then upload the
// page file under the log's ID. The page is the failure unit: a
// page whose pipeline fails is logged and dropped, and the batch
// moves on to the next page.
type logPageQueue struct {
	queue   *queue[Page]
	logger  *slog.Logger
	shipper logShipper
	plan    jobref.PlanID
	// associate sets the log reference on the owning record. Called
	// exactly once per record, on creation success.
	associate func(record jobref.RecordID, ref timeline.LogRef)
	// logs memoizes creation outcomes per record. Touched only by
	// the flush goroutine.
	logs map[jobref.RecordID]logCreation
}

func newLogPageQueue(clk clock.Clock, interval time.Duration, logger *slog.Logger, shipper logShipper, plan jobref.PlanID, associate func(jobref.RecordID, timeline.LogRef)) *logPageQueue {
	lq := &logPageQueue{
		logger:    logger,
		shipper:   shipper,
		plan:      plan,
		associate: associate,
		logs:      make(map[jobref.RecordID]logCreation),
	}
	lq.queue = newQueue("log pages", clk, interval, logger, lq.flushBatch)
	return lq
}

// Enqueue queues a staged page for upload.
func (lq *logPageQueue) Enqueue(page Page) { lq.queue.Push(page) }

// flushBatch ships each page in order. The returned error joins the
// per-page failures so the queue's sticky error reflects the first
// bad batch; successful pages in the same batch are already shipped
// and deleted by then.
func (lq *logPageQueue) flushBatch(ctx context.Context, batch []Page) error {
	var errs []error
	for _, page := range batch {
		if err := lq.shipPage(ctx, page); err != nil {
			lq.logger.Warn("log page dropped",
				"record", page.Record,
				"page", page.Path,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (lq *logPageQueue) shipPage(ctx context.Context, page Page) error {
	creation, ok := lq.logs[page.Record]
	if !ok {
		ref, err := lq.shipper.CreateLog(ctx, lq.plan, fmt.Sprintf("logs/%s", page.Record))
		creation = logCreation{ref: ref, err: err}
		lq.logs[page.Record] = creation
		if err == nil {
			lq.associate(page.Record, ref)
		}
	}
	if creation.err != nil {
		return fmt.Errorf("log was not created for record %s: %w", page.Record, creation.err)
	}

	if err := lq.shipper.UploadLogFile(ctx, lq.plan, creation.ref.ID, page.Path); err != nil {
		return fmt.Errorf("uploading page: %w", err)
	}
	if err := os.Remove(page.Path); err != nil {
		// The page shipped; a leftover staging file is only disk
		// noise.
		lq.logger.Warn("removing shipped page failed",
			"page", page.Path,
			"error", err,
		)
	}
	return nil
}
