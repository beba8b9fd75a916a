// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"time"

	"github.com/drover-build/drover/lib/jobref"
)

// State describes where a timeline record is in its lifecycle.
type State uint8

const (
	// StatePending means the step has been planned but has not
	// started running.
	StatePending State = 0

	// StateInProgress means the step is currently running.
	StateInProgress State = 1

	// StateCompleted means the step finished. The record's Result
	// says how.
	StateCompleted State = 2
)

// String returns the lowercase name used in logs.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "inProgress"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Result describes how a completed step ended.
type Result uint8

const (
	// ResultSucceeded means the step completed without issues.
	ResultSucceeded Result = 0

	// ResultSucceededWithIssues means the step completed but reported
	// warnings or tolerated errors.
	ResultSucceededWithIssues Result = 1

	// ResultFailed means the step failed.
	ResultFailed Result = 2

	// ResultCanceled means the run was canceled while the step was
	// pending or in progress.
	ResultCanceled Result = 3

	// ResultSkipped means the step was never run, either by condition
	// or because an earlier step failed.
	ResultSkipped Result = 4

	// ResultAbandoned means the coordinator gave up on the step after
	// the worker's lease lapsed.
	ResultAbandoned Result = 5
)

// String returns the lowercase name used in logs.
func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultSucceededWithIssues:
		return "succeededWithIssues"
	case ResultFailed:
		return "failed"
	case ResultCanceled:
		return "canceled"
	case ResultSkipped:
		return "skipped"
	case ResultAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// IssueKind classifies an issue attached to a timeline record.
type IssueKind uint8

const (
	// IssueError marks an issue that counts toward the record's
	// error total.
	IssueError IssueKind = 1

	// IssueWarning marks an issue that counts toward the record's
	// warning total.
	IssueWarning IssueKind = 2
)

// Issue is one error or warning surfaced by a step. The coordinator
// shows issues inline next to the record; only a capped number are
// kept per record, with the totals carried separately in ErrorCount
// and WarningCount.
type Issue struct {
	// Kind says whether this issue is an error or a warning.
	Kind IssueKind `json:"kind"`

	// Message is the issue text, already masked of secrets.
	Message string `json:"message"`
}

// LogRef points a record at its uploaded full log.
type LogRef struct {
	// ID is the coordinator-assigned log identifier returned by log
	// creation.
	ID int `json:"id"`

	// Path is the coordinator-side path the log was created under.
	Path string `json:"path,omitempty"`
}

// Record is one entry in a job timeline: the job itself or one of its
// steps. The coordinator merges updates by record ID, so a Record sent
// over the wire is a sparse update: only non-nil pointer fields and
// non-empty strings change the stored record. The worker mutates one
// Record value per batch window and ships a snapshot of it.
type Record struct {
	// ID is the worker-minted identity the coordinator merges
	// updates under. Always set.
	ID jobref.RecordID `json:"id"`

	// ParentID links a step record to its job record. Nil on the
	// root record.
	ParentID *jobref.RecordID `json:"parent_id,omitempty"`

	// Name is the display name of the step.
	Name string `json:"name,omitempty"`

	// Order positions the record among its siblings.
	Order *int `json:"order,omitempty"`

	// State is the lifecycle state, when this update changes it.
	State *State `json:"state,omitempty"`

	// Result is the outcome, set together with StateCompleted.
	Result *Result `json:"result,omitempty"`

	// CurrentOperation is a short human-readable description of what
	// the step is doing right now.
	CurrentOperation string `json:"current_operation,omitempty"`

	// StartTime is when the step started running.
	StartTime *time.Time `json:"start_time,omitempty"`

	// FinishTime is when the step completed.
	FinishTime *time.Time `json:"finish_time,omitempty"`

	// WorkerName identifies the worker executing the step.
	WorkerName string `json:"worker_name,omitempty"`

	// Log references the step's uploaded full log, once the first
	// page has been shipped.
	Log *LogRef `json:"log,omitempty"`

	// Issues are the kept errors and warnings for the record, capped;
	// ErrorCount and WarningCount keep the true totals.
	Issues []Issue `json:"issues,omitempty"`

	// ErrorCount is the total number of error issues raised, including
	// ones dropped by the cap.
	ErrorCount *int `json:"error_count,omitempty"`

	// WarningCount is the total number of warning issues raised,
	// including ones dropped by the cap.
	WarningCount *int `json:"warning_count,omitempty"`

	// Location distinguishes coordinator-side record variants. Left
	// empty by the worker.
	Location string `json:"location,omitempty"`
}

// Artifact is the metadata posted to register a published build
// artifact. The content itself is uploaded separately to a file
// container; Resource ties the two together.
type Artifact struct {
	// Name is the artifact's display name, unique within the build.
	Name string `json:"name"`

	// Resource says where the artifact's content lives.
	Resource ArtifactResource `json:"resource"`
}

// ArtifactResource locates an artifact's content.
type ArtifactResource struct {
	// Type is the resource kind; container-backed artifacts use
	// "container".
	Type string `json:"type"`

	// Data is the resource locator. For container-backed artifacts
	// this is "#/<containerID>/<name>".
	Data string `json:"data"`

	// Properties carries optional extra metadata shown alongside the
	// artifact.
	Properties map[string]string `json:"properties,omitempty"`
}

// ContainerArtifact builds the registration metadata for an artifact
// whose content was uploaded to the given file container under
// itemPath.
func ContainerArtifact(name string, container jobref.ContainerID, itemPath string) Artifact {
	return Artifact{
		Name: name,
		Resource: ArtifactResource{
			Type: "container",
			Data: fmt.Sprintf("#/%s/%s", container, name),
			Properties: map[string]string{
				"root_path": itemPath,
			},
		},
	}
}
