// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
)

// recordQueue batches timeline record updates, keyed by record ID.
// Mutations within one batch window land on the same record, so a
// step that sets its state, operation, and timing between flushes
// ships one merged update instead of three. The snapshot clears the
// key map along with the batch: the first mutation after a flush
// starts a fresh sparse record for that ID.
type recordQueue struct {
	queue *queue[*timeline.Record]
	// records maps ID to the live record of the current batch
	// window. Guarded by the queue mutex via Mutate; cleared by the
	// snapshot hook.
	records map[jobref.RecordID]*timeline.Record
}

// recordShipper is the slice of the coordinator the record queue
// needs.
type recordShipper interface {
	UpdateTimelineRecords(ctx context.Context, plan jobref.PlanID, tl jobref.TimelineID, records []timeline.Record) error
}

func newRecordQueue(clk clock.Clock, interval time.Duration, logger *slog.Logger, shipper recordShipper, plan jobref.PlanID, tl jobref.TimelineID) *recordQueue {
	rq := &recordQueue{
		records: make(map[jobref.RecordID]*timeline.Record),
	}
	rq.queue = newQueue("timeline", clk, interval, logger,
		func(ctx context.Context, batch []*timeline.Record) error {
			// The snapshot owns these pointers now; nothing mutates
			// them after the key map reset.
			updates := make([]timeline.Record, len(batch))
			for i, record := range batch {
				updates[i] = *record
			}
			return shipper.UpdateTimelineRecords(ctx, plan, tl, updates)
		})
	rq.queue.onSnapshot = func() { clear(rq.records) }
	return rq
}

// Update applies fn to the batch-window record for id, creating it
// if this is the first mutation in the window. The whole operation
// is one critical section with the snapshot, so a mutation never
// lands on a record already taken by a flush.
func (rq *recordQueue) Update(id jobref.RecordID, fn func(record *timeline.Record)) {
	rq.queue.Mutate(func(push func(*timeline.Record)) {
		record, ok := rq.records[id]
		if !ok {
			record = &timeline.Record{ID: id}
			rq.records[id] = record
			push(record)
		}
		fn(record)
	})
}

// GetOrAdd returns the live record for id in the current batch
// window, creating it if needed. Repeat calls within a window return
// the same pointer. The pointer is only safe to mutate through
// [recordQueue.Update]; GetOrAdd exists for identity checks.
func (rq *recordQueue) GetOrAdd(id jobref.RecordID) *timeline.Record {
	var record *timeline.Record
	rq.Update(id, func(r *timeline.Record) { record = r })
	return record
}
