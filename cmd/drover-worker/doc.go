// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Drover-worker executes one build job against a Drover coordinator.
// It reads the job file handed out with the job lease (identity,
// secrets, shell steps), runs the steps in order, and streams
// everything the coordinator needs through the delivery channel:
// timeline record updates, console lines, paged full logs, artifact
// uploads, and lease renewals.
//
// Execution flow:
//
//	job file → root + step records registered → per step:
//	  sh -c (own process group) → stdout/stderr line stream
//	    → console feed (truncated, masked)
//	    → page writer (full lines, masked) → log page queue
//	  declared artifacts → command queue (upload + register)
//	→ channel drain → verdict
//
// Step failure semantics:
//   - a non-zero exit fails the step and skips everything after it,
//     unless the step sets continue_on_error, which downgrades the
//     failure to succeededWithIssues
//   - a per-step timeout kills the step's whole process group
//     (SIGTERM, then SIGKILL after grace_period)
//   - SIGINT/SIGTERM to the worker cancels the run; remaining steps
//     are recorded as skipped and the job as canceled
//
// Delivery always gets its own drain window after the last step: job
// cancellation stops step execution, not result reporting.
//
// The worker deliberately does nothing else. Queueing, scheduling,
// retry, and artifact retention are the coordinator's business; the
// worker's one responsibility is faithful execution and delivery for
// a single leased job run.
package main
