// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package jobref

import (
	"errors"
	"fmt"
)

// Identity bundles every identifier a job run needs to talk to the
// coordinator. It is assembled once when the job is claimed and
// treated as read-only for the rest of the run.
type Identity struct {
	// Plan, Timeline, and Job scope all timeline record updates and
	// console feed lines.
	Plan     PlanID
	Timeline TimelineID
	Job      JobID

	// Project, Build, and Container scope artifact publication.
	// Container may be zero for runs that never upload files.
	Project   ProjectID
	Build     BuildID
	Container ContainerID

	// Pool, Request, and LockToken identify the claimed job request
	// for lease renewal.
	Pool      PoolID
	Request   RequestID
	LockToken LockToken

	// Worker is the display name reported on timeline records.
	Worker string
}

// Validate reports every missing identifier, joined into one error.
// Container is optional; everything else is required.
func (id Identity) Validate() error {
	var errs []error
	if id.Plan.IsZero() {
		errs = append(errs, errors.New("plan ID is required"))
	}
	if id.Timeline.IsZero() {
		errs = append(errs, errors.New("timeline ID is required"))
	}
	if id.Job.IsZero() {
		errs = append(errs, errors.New("job ID is required"))
	}
	if id.Project.IsZero() {
		errs = append(errs, errors.New("project ID is required"))
	}
	if id.Build <= 0 {
		errs = append(errs, fmt.Errorf("build ID must be positive, got %d", id.Build))
	}
	if id.Pool <= 0 {
		errs = append(errs, fmt.Errorf("pool ID must be positive, got %d", id.Pool))
	}
	if id.Request <= 0 {
		errs = append(errs, fmt.Errorf("request ID must be positive, got %d", id.Request))
	}
	if id.LockToken.IsZero() {
		errs = append(errs, errors.New("lock token is required"))
	}
	if id.Worker == "" {
		errs = append(errs, errors.New("worker name is required"))
	}
	return errors.Join(errs...)
}
