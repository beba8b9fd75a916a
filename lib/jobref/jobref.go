// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobref defines the typed identifiers that scope a job run.
//
// Every delivery call to the coordinator is addressed by some subset
// of these identifiers. They are distinct Go types rather than bare
// strings or UUIDs so that a plan ID can never be passed where a
// timeline ID is expected; the compiler checks what the wire protocol
// cannot.
//
// The UUID-backed types serialize as canonical 36-character text in
// both JSON and CBOR (via encoding.TextMarshaler, which lib/codec is
// configured to honor).
package jobref

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// PlanID identifies the orchestration plan a job run belongs to. All
// timeline and log operations are scoped to a plan.
type PlanID uuid.UUID

// NewPlanID returns a freshly generated random plan ID.
func NewPlanID() PlanID { return PlanID(uuid.New()) }

// ParsePlanID parses the canonical UUID text form of a plan ID.
func ParsePlanID(s string) (PlanID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PlanID{}, fmt.Errorf("invalid plan ID %q: %w", s, err)
	}
	return PlanID(u), nil
}

// String returns the canonical 36-character UUID form.
func (id PlanID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether this is an uninitialized zero-value ID.
func (id PlanID) IsZero() bool { return id == PlanID{} }

// MarshalText implements encoding.TextMarshaler.
func (id PlanID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero ID.
func (id *PlanID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = PlanID{}
		return nil
	}
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid plan ID: %w", err)
	}
	*id = PlanID(u)
	return nil
}

// TimelineID identifies one timeline within a plan. A job run writes
// all of its records and feed lines to a single timeline.
type TimelineID uuid.UUID

// NewTimelineID returns a freshly generated random timeline ID.
func NewTimelineID() TimelineID { return TimelineID(uuid.New()) }

// ParseTimelineID parses the canonical UUID text form of a timeline ID.
func ParseTimelineID(s string) (TimelineID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TimelineID{}, fmt.Errorf("invalid timeline ID %q: %w", s, err)
	}
	return TimelineID(u), nil
}

// String returns the canonical 36-character UUID form.
func (id TimelineID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether this is an uninitialized zero-value ID.
func (id TimelineID) IsZero() bool { return id == TimelineID{} }

// MarshalText implements encoding.TextMarshaler.
func (id TimelineID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero ID.
func (id *TimelineID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = TimelineID{}
		return nil
	}
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid timeline ID: %w", err)
	}
	*id = TimelineID(u)
	return nil
}

// JobID identifies the job run itself. Feed lines are scoped to the
// job so the coordinator can attribute console output.
type JobID uuid.UUID

// NewJobID returns a freshly generated random job ID.
func NewJobID() JobID { return JobID(uuid.New()) }

// ParseJobID parses the canonical UUID text form of a job ID.
func ParseJobID(s string) (JobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return JobID{}, fmt.Errorf("invalid job ID %q: %w", s, err)
	}
	return JobID(u), nil
}

// String returns the canonical 36-character UUID form.
func (id JobID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether this is an uninitialized zero-value ID.
func (id JobID) IsZero() bool { return id == JobID{} }

// MarshalText implements encoding.TextMarshaler.
func (id JobID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero ID.
func (id *JobID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = JobID{}
		return nil
	}
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}
	*id = JobID(u)
	return nil
}

// RecordID identifies one timeline record (a step or phase) within a
// job run. Record IDs are minted by the worker and are the key the
// coordinator merges updates under.
type RecordID uuid.UUID

// NewRecordID returns a freshly generated random record ID.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// ParseRecordID parses the canonical UUID text form of a record ID.
func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid record ID %q: %w", s, err)
	}
	return RecordID(u), nil
}

// String returns the canonical 36-character UUID form.
func (id RecordID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether this is an uninitialized zero-value ID.
func (id RecordID) IsZero() bool { return id == RecordID{} }

// MarshalText implements encoding.TextMarshaler.
func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero ID.
func (id *RecordID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = RecordID{}
		return nil
	}
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid record ID: %w", err)
	}
	*id = RecordID(u)
	return nil
}

// ProjectID identifies the project that owns the build, used when
// posting build artifacts.
type ProjectID uuid.UUID

// ParseProjectID parses the canonical UUID text form of a project ID.
func ParseProjectID(s string) (ProjectID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ProjectID{}, fmt.Errorf("invalid project ID %q: %w", s, err)
	}
	return ProjectID(u), nil
}

// String returns the canonical 36-character UUID form.
func (id ProjectID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether this is an uninitialized zero-value ID.
func (id ProjectID) IsZero() bool { return id == ProjectID{} }

// MarshalText implements encoding.TextMarshaler.
func (id ProjectID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero ID.
func (id *ProjectID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = ProjectID{}
		return nil
	}
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid project ID: %w", err)
	}
	*id = ProjectID(u)
	return nil
}

// LockToken is the opaque token proving the worker's claim on a job
// request. It is issued once when the job is assigned and presented
// on every lease renewal; it is never regenerated during a run.
type LockToken uuid.UUID

// ParseLockToken parses the canonical UUID text form of a lock token.
func ParseLockToken(s string) (LockToken, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return LockToken{}, fmt.Errorf("invalid lock token %q: %w", s, err)
	}
	return LockToken(u), nil
}

// String returns the canonical 36-character UUID form.
func (t LockToken) String() string { return uuid.UUID(t).String() }

// IsZero reports whether this is an uninitialized zero-value token.
func (t LockToken) IsZero() bool { return t == LockToken{} }

// MarshalText implements encoding.TextMarshaler.
func (t LockToken) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(t).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero token.
func (t *LockToken) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*t = LockToken{}
		return nil
	}
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid lock token: %w", err)
	}
	*t = LockToken(u)
	return nil
}

// PoolID identifies the agent pool whose queue the job request came
// from. Pool IDs are small coordinator-assigned integers.
type PoolID int

// String returns the decimal form.
func (id PoolID) String() string { return strconv.Itoa(int(id)) }

// RequestID identifies the job request (the queue entry the worker
// claimed). Scoped to a pool.
type RequestID int64

// String returns the decimal form.
func (id RequestID) String() string { return strconv.FormatInt(int64(id), 10) }

// BuildID identifies the build the job run is part of, used when
// posting build artifacts.
type BuildID int

// String returns the decimal form.
func (id BuildID) String() string { return strconv.Itoa(int(id)) }

// ContainerID identifies the coordinator-side file container that
// receives uploaded artifact content.
type ContainerID int64

// String returns the decimal form.
func (id ContainerID) String() string { return strconv.FormatInt(int64(id), 10) }
