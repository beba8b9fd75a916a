// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"time"

	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
)

// ServiceError is returned when the coordinator responds with a
// non-2xx status. It carries the operation name, the HTTP status, and
// the server's error message.
type ServiceError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coordinator error on %q: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("coordinator error on %q: %s (HTTP %d)", e.Op, e.Message, e.Status)
}

// errorEnvelope is the body the coordinator sends with a non-2xx
// status.
type errorEnvelope struct {
	Error string `json:"error"`
}

// recordBatch is the body of a timeline record update.
type recordBatch struct {
	Records []timeline.Record `json:"records"`
}

// feedBatch is the body of a console feed append.
type feedBatch struct {
	Lines []string `json:"lines"`
}

// createLogRequest asks the coordinator to allocate a log under the
// given path.
type createLogRequest struct {
	Path string `json:"path"`
}

// renewRequest proves the worker's claim when renewing a job lease.
type renewRequest struct {
	LockToken jobref.LockToken `json:"lock_token"`
}

// JobRequest is the coordinator's view of a claimed job request,
// returned from lease renewal.
type JobRequest struct {
	// RequestID echoes the renewed request.
	RequestID jobref.RequestID `json:"request_id"`

	// LockedUntil is when the renewed lease expires. Nil if the
	// coordinator did not report an expiry.
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}
