// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/drover-build/drover/coordinator"
	"github.com/drover-build/drover/lib/clock"
	"github.com/drover-build/drover/lib/jobref"
)

// leaseClient is the slice of the coordinator the renewer needs.
type leaseClient interface {
	RenewJobRequest(ctx context.Context, pool jobref.PoolID, request jobref.RequestID, lockToken jobref.LockToken) (coordinator.JobRequest, error)
}

// leaseRenewer keeps the worker's claim on the job request alive by
// renewing it on a fixed cadence. Renewal failures are logged and
// counted, never fatal: a single missed renewal is survivable, and
// if the lease truly lapses the coordinator abandons the job on its
// own.
type leaseRenewer struct {
	runner   *Runner
	client   leaseClient
	logger   *slog.Logger
	pool     jobref.PoolID
	request  jobref.RequestID
	token    jobref.LockToken
	renewed  atomic.Int64
	failures atomic.Int64
}

func newLeaseRenewer(clk clock.Clock, interval time.Duration, logger *slog.Logger, client leaseClient, identity jobref.Identity) *leaseRenewer {
	lr := &leaseRenewer{
		client:  client,
		logger:  logger,
		pool:    identity.Pool,
		request: identity.Request,
		token:   identity.LockToken,
	}
	lr.runner = NewRunner(RunnerConfig{
		Clock:    clk,
		Interval: interval,
		Work:     lr.renewOnce,
	})
	return lr
}

func (lr *leaseRenewer) Start(ctx context.Context) { lr.runner.Start(ctx) }
func (lr *leaseRenewer) Stop()                     { lr.runner.Stop() }

// Stats returns how many renewals have succeeded and failed.
func (lr *leaseRenewer) Stats() (renewed, failed int64) {
	return lr.renewed.Load(), lr.failures.Load()
}

func (lr *leaseRenewer) renewOnce(ctx context.Context) {
	request, err := lr.client.RenewJobRequest(ctx, lr.pool, lr.request, lr.token)
	if err != nil {
		lr.failures.Add(1)
		lr.logger.Warn("lease renewal failed",
			"pool", lr.pool,
			"request", lr.request,
			"failures", lr.failures.Load(),
			"error", err,
		)
		return
	}
	lr.renewed.Add(1)
	if request.LockedUntil != nil {
		lr.logger.Debug("lease renewed",
			"request", lr.request,
			"locked_until", request.LockedUntil,
		)
	}
}
