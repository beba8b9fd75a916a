// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drover-build/drover/lib/jobref"
)

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing job file: %v", err)
	}
	return path
}

func TestLoadJob(t *testing.T) {
	plan := jobref.NewPlanID().String()
	tl := jobref.NewTimelineID().String()
	jobID := jobref.NewJobID().String()
	project := jobref.ProjectID(jobref.NewPlanID()).String()
	token := jobref.LockToken(jobref.NewPlanID()).String()

	content := fmt.Sprintf(`
name: linux build
plan: %s
timeline: %s
job: %s
project: %s
build: 77
container: 4242
pool: 3
request: 9001
lock_token: %s
worker: worker-07
secrets:
  - value: hunter2
  - pattern: "ghp_[A-Za-z0-9]+"
variables:
  CI: "true"
steps:
  - name: compile
    run: make build
    timeout: 90s
    grace_period: 5s
    env:
      GOFLAGS: -race
  - name: package
    run: make dist
    continue_on_error: true
    artifacts:
      - name: drop
        path: dist/out.tgz
        item_path: drop/out.tgz
`, plan, tl, jobID, project, token)

	job, err := LoadJob(writeJobFile(t, content))
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}

	if job.Name != "linux build" {
		t.Errorf("Name = %q, want %q", job.Name, "linux build")
	}
	if job.Worker != "worker-07" {
		t.Errorf("Worker = %q, want %q", job.Worker, "worker-07")
	}
	if job.Variables["CI"] != "true" {
		t.Errorf("Variables[CI] = %q, want %q", job.Variables["CI"], "true")
	}
	if len(job.Secrets) != 2 {
		t.Fatalf("len(Secrets) = %d, want 2", len(job.Secrets))
	}

	if len(job.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(job.Steps))
	}
	compile := job.Steps[0]
	if compile.Run != "make build" {
		t.Errorf("compile.Run = %q, want %q", compile.Run, "make build")
	}
	if compile.Timeout.Std() != 90*time.Second {
		t.Errorf("compile.Timeout = %s, want 90s", compile.Timeout.Std())
	}
	if compile.GracePeriod.Std() != 5*time.Second {
		t.Errorf("compile.GracePeriod = %s, want 5s", compile.GracePeriod.Std())
	}
	if compile.Env["GOFLAGS"] != "-race" {
		t.Errorf("compile.Env[GOFLAGS] = %q, want %q", compile.Env["GOFLAGS"], "-race")
	}
	pack := job.Steps[1]
	if !pack.ContinueOnError {
		t.Error("package step should have ContinueOnError")
	}
	if len(pack.Artifacts) != 1 || pack.Artifacts[0].Name != "drop" || pack.Artifacts[0].ItemPath != "drop/out.tgz" {
		t.Errorf("package artifacts = %+v", pack.Artifacts)
	}

	identity, err := job.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if identity.Plan.String() != plan {
		t.Errorf("identity.Plan = %s, want %s", identity.Plan, plan)
	}
	if identity.Job.String() != jobID {
		t.Errorf("identity.Job = %s, want %s", identity.Job, jobID)
	}
	if identity.Build != 77 || identity.Container != 4242 {
		t.Errorf("identity build/container = %d/%d, want 77/4242", identity.Build, identity.Container)
	}
	if identity.Pool != 3 || identity.Request != 9001 {
		t.Errorf("identity pool/request = %d/%d, want 3/9001", identity.Pool, identity.Request)
	}
	if identity.LockToken.String() != token {
		t.Errorf("identity.LockToken = %s, want %s", identity.LockToken, token)
	}
	if err := identity.Validate(); err != nil {
		t.Errorf("identity should validate: %v", err)
	}
}

func TestLoadJobRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "steps:\n  - name: a\n    run: true\n",
			want:    "name is required",
		},
		{
			name:    "no steps",
			content: "name: empty\n",
			want:    "at least one step",
		},
		{
			name:    "step without run",
			content: "name: j\nsteps:\n  - name: a\n",
			want:    "run is required",
		},
		{
			name:    "secret with neither value nor pattern",
			content: "name: j\nsecrets:\n  - {}\nsteps:\n  - name: a\n    run: true\n",
			want:    "value or pattern is required",
		},
		{
			name:    "secret with both value and pattern",
			content: "name: j\nsecrets:\n  - value: x1y2\n    pattern: abc\nsteps:\n  - name: a\n    run: true\n",
			want:    "mutually exclusive",
		},
		{
			name:    "artifact without path",
			content: "name: j\nsteps:\n  - name: a\n    run: true\n    artifacts:\n      - name: drop\n",
			want:    "path is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadJob(writeJobFile(t, tc.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestJobIdentityParseErrors(t *testing.T) {
	job := &Job{
		Plan:      "not-a-uuid",
		Timeline:  jobref.NewTimelineID().String(),
		JobID:     jobref.NewJobID().String(),
		Project:   jobref.ProjectID(jobref.NewPlanID()).String(),
		LockToken: "also-not-a-uuid",
	}
	_, err := job.Identity()
	if err == nil {
		t.Fatal("expected error for malformed identifiers")
	}
	if !strings.Contains(err.Error(), "invalid plan ID") {
		t.Errorf("error %q should mention the plan ID", err)
	}
	if !strings.Contains(err.Error(), "invalid lock token") {
		t.Errorf("error %q should mention the lock token", err)
	}
}

func TestJobMasker(t *testing.T) {
	job := &Job{Secrets: []SecretSpec{
		{Value: "hunter2"},
		{Pattern: `tok-[0-9]+`},
	}}
	masker, err := job.Masker()
	if err != nil {
		t.Fatalf("Masker: %v", err)
	}
	got := masker.Mask("password hunter2 grants tok-99")
	if got != "password *** grants ***" {
		t.Errorf("Mask = %q, want %q", got, "password *** grants ***")
	}
}

func TestJobMaskerRejectsBadPattern(t *testing.T) {
	job := &Job{Secrets: []SecretSpec{{Pattern: "("}}}
	if _, err := job.Masker(); err == nil {
		t.Fatal("expected error for unparseable pattern")
	}
}
