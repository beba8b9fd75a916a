// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drover-build/drover/coordinator"
	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
	"github.com/drover-build/drover/lib/secretmask"
)

// Default flush cadence. Console lines are the most latency
// sensitive, timeline records the least: record mutations coalesce
// within the window, so a longer window means fewer, fatter updates.
const (
	DefaultConsoleInterval  = 500 * time.Millisecond
	DefaultLogInterval      = time.Second
	DefaultTimelineInterval = 2 * time.Second
	DefaultLeaseInterval    = 60 * time.Second

	// DefaultIssueCap is how many issues a record keeps when the
	// channel is not configured otherwise.
	DefaultIssueCap = 10
)

// Coordinator is the slice of the coordinator client the delivery
// layer uses. Tests substitute fakes per queue; production wires
// *coordinator.Client.
type Coordinator interface {
	UpdateTimelineRecords(ctx context.Context, plan jobref.PlanID, tl jobref.TimelineID, records []timeline.Record) error
	AppendTimelineFeed(ctx context.Context, plan jobref.PlanID, tl jobref.TimelineID, job jobref.JobID, lines []string) error
	CreateLog(ctx context.Context, plan jobref.PlanID, logPath string) (timeline.LogRef, error)
	UploadLogFile(ctx context.Context, plan jobref.PlanID, logID int, localPath string) error
	UploadFileToContainer(ctx context.Context, container jobref.ContainerID, itemPath, localPath string) error
	PostBuildArtifact(ctx context.Context, project jobref.ProjectID, build jobref.BuildID, artifact timeline.Artifact) error
	RenewJobRequest(ctx context.Context, pool jobref.PoolID, request jobref.RequestID, lockToken jobref.LockToken) (coordinator.JobRequest, error)
}

var _ Coordinator = (*coordinator.Client)(nil)

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Coordinator receives everything the channel delivers.
	// Required.
	Coordinator Coordinator

	// Identity is the job run's identity bundle. Required and
	// complete (Identity.Validate).
	Identity jobref.Identity

	// Clock drives all flush cadence. Nil means the real clock.
	Clock clock.Clock

	// Logger receives background delivery failures. Nil means
	// slog.Default.
	Logger *slog.Logger

	// Masker scrubs secrets from console lines and issue messages.
	// Nil masks nothing.
	Masker *secretmask.Masker

	// ConsoleInterval, LogInterval, TimelineInterval, and
	// LeaseInterval override the default flush cadence when
	// positive.
	ConsoleInterval  time.Duration
	LogInterval      time.Duration
	TimelineInterval time.Duration
	LeaseInterval    time.Duration

	// IssueCap overrides DefaultIssueCap when positive. Resolved
	// once here; the cap never changes during a run.
	IssueCap int
}

// issueTally is the per-record issue accumulator. The kept slice is
// capped; the counts keep going.
type issueTally struct {
	kept     []timeline.Issue
	errors   int
	warnings int
}

// Channel is the facade over the delivery queues for one job run.
// Everything a running job sends to the coordinator goes through
// here: timeline record mutations, console lines, staged log pages,
// deferred commands, artifact uploads, and lease renewals.
//
// All methods are safe for concurrent use. Mutations return
// immediately; delivery happens on the queues' own goroutines.
type Channel struct {
	identity jobref.Identity
	client   Coordinator
	logger   *slog.Logger
	masker   *secretmask.Masker

	records  *recordQueue
	console  *consoleQueue
	pages    *logPageQueue
	commands *commandQueue
	renewer  *leaseRenewer

	issueCap int
	issueMu  sync.Mutex
	// issues lazily holds one tally per record that has reported an
	// issue. Channel-owned so the tallies survive batch-window
	// resets in the record queue.
	issues map[jobref.RecordID]*issueTally
}

// NewChannel wires a channel for one job run. Call
// [Channel.Start] to launch the flush loops and the lease renewer,
// and [Channel.Close] at the end of the run.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("delivery: ChannelConfig.Coordinator is required")
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("delivery: invalid identity: %w", err)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	consoleInterval := cfg.ConsoleInterval
	if consoleInterval <= 0 {
		consoleInterval = DefaultConsoleInterval
	}
	logInterval := cfg.LogInterval
	if logInterval <= 0 {
		logInterval = DefaultLogInterval
	}
	timelineInterval := cfg.TimelineInterval
	if timelineInterval <= 0 {
		timelineInterval = DefaultTimelineInterval
	}
	leaseInterval := cfg.LeaseInterval
	if leaseInterval <= 0 {
		leaseInterval = DefaultLeaseInterval
	}
	issueCap := cfg.IssueCap
	if issueCap <= 0 {
		issueCap = DefaultIssueCap
	}

	ch := &Channel{
		identity: cfg.Identity,
		client:   cfg.Coordinator,
		logger:   logger,
		masker:   cfg.Masker,
		issueCap: issueCap,
		issues:   make(map[jobref.RecordID]*issueTally),
	}

	identity := cfg.Identity
	ch.records = newRecordQueue(clk, timelineInterval, logger, cfg.Coordinator, identity.Plan, identity.Timeline)
	ch.console = newConsoleQueue(clk, consoleInterval, logger, cfg.Coordinator, cfg.Masker, identity.Plan, identity.Timeline, identity.Job)
	ch.pages = newLogPageQueue(clk, logInterval, logger, cfg.Coordinator, identity.Plan, ch.SetLogReference)
	ch.commands = newCommandQueue(clk, consoleInterval, logger, ch.AppendLine)
	ch.renewer = newLeaseRenewer(clk, leaseInterval, logger, cfg.Coordinator, identity)

	return ch, nil
}

// Start launches the queue flush loops and the lease renewer.
func (ch *Channel) Start(ctx context.Context) {
	ch.records.queue.Start(ctx)
	ch.console.queue.Start(ctx)
	ch.pages.queue.Start(ctx)
	ch.commands.queue.Start(ctx)
	ch.renewer.Start(ctx)
}

// --- Timeline record mutation API ---
//
// Each setter lands on the record's live update for the current
// batch window; mutations between flushes coalesce into one wire
// record.

// SetName sets the record's display name.
func (ch *Channel) SetName(id jobref.RecordID, name string) {
	ch.records.Update(id, func(r *timeline.Record) { r.Name = name })
}

// SetParent links the record under a parent record.
func (ch *Channel) SetParent(id, parent jobref.RecordID) {
	ch.records.Update(id, func(r *timeline.Record) { r.ParentID = &parent })
}

// SetOrder positions the record among its siblings.
func (ch *Channel) SetOrder(id jobref.RecordID, order int) {
	ch.records.Update(id, func(r *timeline.Record) { r.Order = &order })
}

// SetState sets the record's lifecycle state.
func (ch *Channel) SetState(id jobref.RecordID, state timeline.State) {
	ch.records.Update(id, func(r *timeline.Record) { r.State = &state })
}

// SetResult sets the record's outcome.
func (ch *Channel) SetResult(id jobref.RecordID, result timeline.Result) {
	ch.records.Update(id, func(r *timeline.Record) { r.Result = &result })
}

// SetCurrentOperation sets the short description of what the step is
// doing right now.
func (ch *Channel) SetCurrentOperation(id jobref.RecordID, operation string) {
	ch.records.Update(id, func(r *timeline.Record) { r.CurrentOperation = operation })
}

// SetWorkerName stamps the record with the executing worker's name.
func (ch *Channel) SetWorkerName(id jobref.RecordID, name string) {
	ch.records.Update(id, func(r *timeline.Record) { r.WorkerName = name })
}

// SetStartTime records when the step started.
func (ch *Channel) SetStartTime(id jobref.RecordID, t time.Time) {
	ch.records.Update(id, func(r *timeline.Record) { r.StartTime = &t })
}

// SetFinishTime records when the step finished.
func (ch *Channel) SetFinishTime(id jobref.RecordID, t time.Time) {
	ch.records.Update(id, func(r *timeline.Record) { r.FinishTime = &t })
}

// SetLogReference points the record at its server-side full log.
// Called by the log page queue when the log is created.
func (ch *Channel) SetLogReference(id jobref.RecordID, ref timeline.LogRef) {
	ch.records.Update(id, func(r *timeline.Record) { r.Log = &ref })
}

// AddError attaches an error issue to the record. The message is
// masked. Issues beyond the cap are dropped, but the error count
// keeps climbing and rides on every update.
func (ch *Channel) AddError(id jobref.RecordID, message string) {
	ch.addIssue(id, timeline.IssueError, message)
}

// AddWarning attaches a warning issue to the record, with the same
// cap and counting behavior as AddError.
func (ch *Channel) AddWarning(id jobref.RecordID, message string) {
	ch.addIssue(id, timeline.IssueWarning, message)
}

func (ch *Channel) addIssue(id jobref.RecordID, kind timeline.IssueKind, message string) {
	message = ch.masker.Mask(message)

	ch.issueMu.Lock()
	tally := ch.issues[id]
	if tally == nil {
		tally = &issueTally{}
		ch.issues[id] = tally
	}
	switch kind {
	case timeline.IssueError:
		tally.errors++
	case timeline.IssueWarning:
		tally.warnings++
	}
	if len(tally.kept) < ch.issueCap {
		tally.kept = append(tally.kept, timeline.Issue{Kind: kind, Message: message})
	}
	kept := slices.Clone(tally.kept)
	errorCount := tally.errors
	warningCount := tally.warnings
	ch.issueMu.Unlock()

	ch.records.Update(id, func(r *timeline.Record) {
		r.Issues = kept
		r.ErrorCount = &errorCount
		r.WarningCount = &warningCount
	})
}

// --- Console feed ---

// AppendLine queues one line for the job's live console feed.
func (ch *Channel) AppendLine(line string) { ch.console.Append(line) }

// AppendSection queues a section-header line for the live feed.
func (ch *Channel) AppendSection(line string) { ch.console.Section(line) }

// --- Log pages ---

// EnqueuePage queues a staged log page for upload under its record's
// server-side log.
func (ch *Channel) EnqueuePage(page Page) { ch.pages.Enqueue(page) }

// NewPageWriter returns a PageWriter that stages pages for record id
// under dir and enqueues each cut page on this channel.
func (ch *Channel) NewPageWriter(id jobref.RecordID, dir string, pageSize int) *PageWriter {
	return NewPageWriter(id, dir, pageSize, ch.masker, ch.EnqueuePage)
}

// --- Deferred commands ---

// EnqueueCommand queues a deferred result command. Commands run
// strictly in order; after one fails, the rest are consumed without
// running.
func (ch *Channel) EnqueueCommand(command Command) { ch.commands.Enqueue(command) }

// WaitForCommands blocks until every command enqueued so far has
// been consumed. Steps call this at their boundary so a failure
// surfaces with the step that caused it.
func (ch *Channel) WaitForCommands(ctx context.Context) error {
	return ch.commands.queue.WaitIdle(ctx)
}

// CommandsFailed reports whether any deferred command has failed.
func (ch *Channel) CommandsFailed() bool { return ch.commands.Failed() }

// CommandError returns the first deferred command failure.
func (ch *Channel) CommandError() error { return ch.commands.Err() }

// --- Artifacts (unqueued pass-throughs) ---

// UploadArtifact puts a local file into the run's file container.
// Unlike the queued telemetry paths this is synchronous: the caller
// owns the error.
func (ch *Channel) UploadArtifact(ctx context.Context, itemPath, localPath string) error {
	return ch.client.UploadFileToContainer(ctx, ch.identity.Container, itemPath, localPath)
}

// PostArtifact registers artifact metadata on the build.
// Synchronous, like UploadArtifact.
func (ch *Channel) PostArtifact(ctx context.Context, artifact timeline.Artifact) error {
	return ch.client.PostBuildArtifact(ctx, ch.identity.Project, ch.identity.Build, artifact)
}

// --- Lease ---

// LeaseStats returns how many lease renewals have succeeded and
// failed so far.
func (ch *Channel) LeaseStats() (renewed, failed int64) { return ch.renewer.Stats() }

// --- Shutdown ---

// Close drains the channel and stops its goroutines. No more pushes
// are accepted once it begins.
//
// Drain order follows the data dependencies. The command queue
// drains first because command output still appends console lines.
// Then console and log pages close immediately while the timeline
// queue stays open: the log page queue associates log references
// onto timeline records as it drains, and those mutations must land
// in a deliverable batch. Only when the log pages are done does the
// timeline queue close and drain.
//
// Returns the first queue drain failure (a flush error from any
// closed queue), or ctx's error if the deadline cuts the drain
// short.
func (ch *Channel) Close(ctx context.Context) error {
	defer func() {
		ch.records.queue.Stop()
		ch.console.queue.Stop()
		ch.pages.queue.Stop()
		ch.commands.queue.Stop()
		ch.renewer.Stop()
	}()

	ch.commands.queue.Close()
	if err := ch.commands.queue.Drain(ctx); err != nil {
		// The command queue's flush never fails; this is ctx giving
		// up. The telemetry queues get no chance to drain either.
		return fmt.Errorf("draining commands: %w", err)
	}

	var group errgroup.Group
	group.Go(func() error { return ch.console.queue.Drain(ctx) })
	group.Go(func() error { return ch.records.queue.Drain(ctx) })
	group.Go(func() error {
		err := ch.pages.queue.Drain(ctx)
		// Timeline input ends only now: the page drain above was
		// the last producer of record mutations.
		ch.records.queue.Close()
		return err
	})

	ch.console.queue.Close()
	ch.pages.queue.Close()

	return group.Wait()
}
