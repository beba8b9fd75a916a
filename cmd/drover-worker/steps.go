// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/drover-build/drover/delivery"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/schema/timeline"
)

const (
	// maxLineBytes bounds how much unterminated output is buffered
	// before it is emitted as a line anyway. Minified bundles and
	// base64 blobs produce lines this long.
	maxLineBytes = 1 << 20

	// pipeWaitDelay unblocks the step's Wait when a backgrounded
	// child keeps the output pipes open after the shell exits.
	pipeWaitDelay = 10 * time.Second
)

// jobRunner executes one job's steps and reports everything through
// the delivery channel.
type jobRunner struct {
	channel  *delivery.Channel
	logger   *slog.Logger
	identity jobref.Identity

	// stagingDir is where step log pages are cut before upload.
	stagingDir string
	pageSize   int

	// variables are the job-level environment, overlaid by each
	// step's own env block.
	variables map[string]string
}

// Run executes the job's steps in order and returns the job's
// overall result. The whole plan is registered on the timeline up
// front; a hard failure or cancellation marks the remaining steps
// skipped.
func (r *jobRunner) Run(ctx context.Context, job *Job) timeline.Result {
	root := jobref.NewRecordID()
	r.channel.SetName(root, job.Name)
	r.channel.SetState(root, timeline.StateInProgress)
	r.channel.SetStartTime(root, time.Now())
	r.channel.SetWorkerName(root, r.identity.Worker)

	ids := make([]jobref.RecordID, len(job.Steps))
	for i, step := range job.Steps {
		ids[i] = jobref.NewRecordID()
		r.channel.SetName(ids[i], step.Name)
		r.channel.SetParent(ids[i], root)
		r.channel.SetOrder(ids[i], i+1)
		r.channel.SetState(ids[i], timeline.StatePending)
	}

	result := timeline.ResultSucceeded
	for i, step := range job.Steps {
		if result == timeline.ResultFailed || result == timeline.ResultCanceled {
			r.skipStep(ids[i], step)
			continue
		}

		r.channel.SetCurrentOperation(root, "running: "+step.Name)
		stepResult := r.runStep(ctx, ids[i], step)
		switch stepResult {
		case timeline.ResultFailed, timeline.ResultCanceled:
			result = stepResult
		case timeline.ResultSucceededWithIssues:
			if result == timeline.ResultSucceeded {
				result = timeline.ResultSucceededWithIssues
			}
		}

		// Step boundary: deferred commands from this step (and any
		// stragglers) finish here, so a publication failure fails
		// the job before the next step runs on top of it.
		if err := r.channel.WaitForCommands(ctx); err != nil {
			result = timeline.ResultCanceled
		} else if r.channel.CommandsFailed() && result != timeline.ResultCanceled {
			result = timeline.ResultFailed
		}
	}

	r.channel.SetState(root, timeline.StateCompleted)
	r.channel.SetResult(root, result)
	r.channel.SetFinishTime(root, time.Now())
	return result
}

// runStep executes one shell step, streaming its output to the
// console feed and the step's log pages, and returns the step's
// result.
func (r *jobRunner) runStep(ctx context.Context, id jobref.RecordID, step StepSpec) timeline.Result {
	r.channel.SetState(id, timeline.StateInProgress)
	r.channel.SetStartTime(id, time.Now())
	r.channel.SetWorkerName(id, r.identity.Worker)
	r.channel.AppendSection("Starting: " + step.Name)

	pages := r.channel.NewPageWriter(id, r.stagingDir, r.pageSize)

	stepCtx := ctx
	if timeout := step.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The two output streams emit concurrently; AppendLine and
	// WriteLine are both safe for that. A staging write failure is
	// logged once, not per line.
	var stagingWarn sync.Once
	emit := func(line string) {
		r.channel.AppendLine(line)
		if err := pages.WriteLine(line); err != nil {
			stagingWarn.Do(func() {
				r.logger.Warn("log staging write failed", "step", step.Name, "error", err)
			})
		}
	}

	exitCode, runErr := runShellStep(stepCtx, step, r.stepEnv(step), emit)

	if err := pages.Close(); err != nil {
		r.channel.AddWarning(id, "log staging failed: "+err.Error())
	}

	result := timeline.ResultSucceeded
	switch {
	case runErr == nil && exitCode == 0:
		// Succeeded, even if the deadline fired just as the process
		// finished.
	case ctx.Err() != nil:
		result = timeline.ResultCanceled
		r.channel.AddError(id, "step canceled")
	case stepCtx.Err() != nil:
		result = timeline.ResultFailed
		r.channel.AddError(id, fmt.Sprintf("step timed out after %s", step.Timeout.Std()))
	case runErr != nil:
		result = timeline.ResultFailed
		r.channel.AddError(id, runErr.Error())
	default:
		result = timeline.ResultFailed
		r.channel.AddError(id, fmt.Sprintf("process exited with code %d", exitCode))
	}

	if result == timeline.ResultFailed && step.ContinueOnError {
		result = timeline.ResultSucceededWithIssues
	}

	if result == timeline.ResultSucceeded || result == timeline.ResultSucceededWithIssues {
		for _, spec := range step.Artifacts {
			r.channel.EnqueueCommand(r.publishCommand(id, spec))
		}
	}

	r.channel.SetState(id, timeline.StateCompleted)
	r.channel.SetResult(id, result)
	r.channel.SetFinishTime(id, time.Now())
	return result
}

// skipStep records a step that never ran because an earlier step
// failed or the run was canceled.
func (r *jobRunner) skipStep(id jobref.RecordID, step StepSpec) {
	r.channel.AppendLine("Skipping: " + step.Name)
	r.channel.SetState(id, timeline.StateCompleted)
	r.channel.SetResult(id, timeline.ResultSkipped)
}

// stepEnv overlays the step's env block on the job-level variables.
func (r *jobRunner) stepEnv(step StepSpec) map[string]string {
	if len(step.Env) == 0 {
		return r.variables
	}
	env := make(map[string]string, len(r.variables)+len(step.Env))
	maps.Copy(env, r.variables)
	maps.Copy(env, step.Env)
	return env
}

// publishCommand builds the deferred command that uploads one
// declared artifact to the build's file container and registers it.
func (r *jobRunner) publishCommand(id jobref.RecordID, spec ArtifactSpec) delivery.Command {
	itemPath := spec.ItemPath
	if itemPath == "" {
		itemPath = path.Join(spec.Name, filepath.Base(spec.Path))
	}
	return delivery.Command{
		Record: id,
		Name:   "publish " + spec.Name,
		Run: func(ctx context.Context) ([]string, error) {
			if err := r.channel.UploadArtifact(ctx, itemPath, spec.Path); err != nil {
				return nil, fmt.Errorf("uploading %s: %w", spec.Path, err)
			}
			artifact := timeline.ContainerArtifact(spec.Name, r.identity.Container, itemPath)
			if err := r.channel.PostArtifact(ctx, artifact); err != nil {
				return nil, fmt.Errorf("registering %s: %w", spec.Name, err)
			}
			return []string{fmt.Sprintf("published artifact %q (%s)", spec.Name, itemPath)}, nil
		},
	}
}

// runShellStep executes the step's command via sh -c, emitting each
// output line as it arrives. Returns the exit code and any non-exit
// error (start failure, cancellation, held pipes).
//
// The shell is resolved via PATH, not hardcoded to /bin/sh: build
// images vary in where (and what) their shell is.
//
// The command runs in its own process group so that cancellation
// kills the shell and all its children. Without Setpgid, only the
// shell receives the signal; surviving children would keep the
// output pipes open and hold the step's Wait hostage.
//
// When the step's grace period is zero, SIGKILL is sent immediately
// on cancellation. When it is positive, SIGTERM goes first so the
// process can flush and commit; a background goroutine escalates to
// SIGKILL after the grace period if the group is still alive.
func runShellStep(ctx context.Context, step StepSpec, env map[string]string, emit func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)

	stdout := &lineWriter{emit: emit}
	stderr := &lineWriter{emit: emit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Own process group; negative PID signals the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if grace := step.GracePeriod.Std(); grace > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(grace)
				// ESRCH from a group that already exited is harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	// A child the shell leaves behind ("server &") inherits the
	// output pipes; without a wait delay its open write ends would
	// block Wait forever after the shell itself exits.
	cmd.WaitDelay = pipeWaitDelay

	if len(env) > 0 {
		cmd.Env = os.Environ()
		for name, value := range env {
			cmd.Env = append(cmd.Env, name+"="+value)
		}
	}

	err := cmd.Run()
	stdout.flush()
	stderr.flush()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}

	// Non-exit errors: start failure, context cancellation, pipes
	// held past the wait delay.
	return -1, err
}

// lineWriter splits a raw output stream into lines for emit.
// Carriage returns before the newline are stripped. Each stream has
// its own lineWriter, written by its own copy goroutine; no locking
// is needed until the streams meet in emit.
type lineWriter struct {
	emit func(string)
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		newline := bytes.IndexByte(w.buf, '\n')
		if newline < 0 {
			break
		}
		w.emit(strings.TrimSuffix(string(w.buf[:newline]), "\r"))
		w.buf = w.buf[newline+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// flush emits a trailing unterminated fragment as a final line.
func (w *lineWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	w.emit(strings.TrimSuffix(string(w.buf), "\r"))
	w.buf = nil
}
