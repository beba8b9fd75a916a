// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/drover-build/drover/lib/config"
	"github.com/drover-build/drover/lib/jobref"
	"github.com/drover-build/drover/lib/secretmask"
)

// Job is the unit of work handed to the worker alongside the job
// lease: the run's identity, the secrets to mask out of all output,
// and the shell steps to execute.
type Job struct {
	// Name is the job's display name on its timeline root record.
	Name string `yaml:"name"`

	// Plan, Timeline, JobID, Project, and LockToken are canonical
	// UUID text; Identity parses them.
	Plan      string `yaml:"plan"`
	Timeline  string `yaml:"timeline"`
	JobID     string `yaml:"job"`
	Project   string `yaml:"project"`
	LockToken string `yaml:"lock_token"`

	// Build and Container scope artifact publication. Container may
	// be zero for jobs that declare no artifacts.
	Build     int   `yaml:"build"`
	Container int64 `yaml:"container"`

	// Pool and Request identify the claimed job request for lease
	// renewal.
	Pool    int   `yaml:"pool"`
	Request int64 `yaml:"request"`

	// Worker is the display name reported on timeline records.
	// Empty means the hostname.
	Worker string `yaml:"worker"`

	// Secrets are masked out of every console line, log page, and
	// issue message.
	Secrets []SecretSpec `yaml:"secrets"`

	// Variables are environment variables exported to every step.
	Variables map[string]string `yaml:"variables"`

	// Steps run in order. A hard step failure skips everything
	// after it.
	Steps []StepSpec `yaml:"steps"`
}

// SecretSpec declares one piece of secret material. Exactly one of
// Value and Pattern is set.
type SecretSpec struct {
	// Value is a literal secret string.
	Value string `yaml:"value"`

	// Pattern is a regular expression matching secret material, for
	// secrets whose exact value varies (signed URLs, derived
	// tokens).
	Pattern string `yaml:"pattern"`
}

// StepSpec is one shell step of the job.
type StepSpec struct {
	// Name is the step's display name on the timeline.
	Name string `yaml:"name"`

	// Run is the shell command, executed via sh -c.
	Run string `yaml:"run"`

	// Env is added to the job-level variables for this step only.
	Env map[string]string `yaml:"env"`

	// Timeout bounds the step's run time. Zero means no limit.
	Timeout config.Duration `yaml:"timeout"`

	// GracePeriod is how long the step's process group gets between
	// SIGTERM and SIGKILL on timeout or cancellation. Zero kills
	// immediately.
	GracePeriod config.Duration `yaml:"grace_period"`

	// ContinueOnError downgrades this step's failure to
	// succeededWithIssues so later steps still run.
	ContinueOnError bool `yaml:"continue_on_error"`

	// Artifacts are published after the step succeeds.
	Artifacts []ArtifactSpec `yaml:"artifacts"`
}

// ArtifactSpec declares one file the step leaves behind for
// publication.
type ArtifactSpec struct {
	// Name is the artifact's display name, unique within the build.
	Name string `yaml:"name"`

	// Path is the local file to upload, relative paths resolved
	// against the worker's working directory.
	Path string `yaml:"path"`

	// ItemPath is the destination path inside the build's file
	// container. Empty means "<name>/<base of Path>".
	ItemPath string `yaml:"item_path"`
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job file %s: %w", path, err)
	}
	return &job, nil
}

// Validate checks the job's structure. Identifier parse errors are
// reported by Identity instead.
func (j *Job) Validate() error {
	var errs []error

	if j.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(j.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}
	for i, step := range j.Steps {
		if step.Name == "" {
			errs = append(errs, fmt.Errorf("step %d: name is required", i+1))
		}
		if step.Run == "" {
			errs = append(errs, fmt.Errorf("step %d (%s): run is required", i+1, step.Name))
		}
		if step.Timeout < 0 {
			errs = append(errs, fmt.Errorf("step %d (%s): timeout must not be negative", i+1, step.Name))
		}
		for _, artifact := range step.Artifacts {
			if artifact.Name == "" {
				errs = append(errs, fmt.Errorf("step %d (%s): artifact name is required", i+1, step.Name))
			}
			if artifact.Path == "" {
				errs = append(errs, fmt.Errorf("step %d (%s): artifact %q: path is required", i+1, step.Name, artifact.Name))
			}
		}
	}
	for i, secret := range j.Secrets {
		if secret.Value == "" && secret.Pattern == "" {
			errs = append(errs, fmt.Errorf("secret %d: value or pattern is required", i+1))
		}
		if secret.Value != "" && secret.Pattern != "" {
			errs = append(errs, fmt.Errorf("secret %d: value and pattern are mutually exclusive", i+1))
		}
	}

	return errors.Join(errs...)
}

// Identity parses the job's identifier fields into the typed bundle
// the delivery channel is addressed by. The caller fills
// Identity.Worker when the job file leaves it empty.
func (j *Job) Identity() (jobref.Identity, error) {
	var errs []error

	plan, err := jobref.ParsePlanID(j.Plan)
	if err != nil {
		errs = append(errs, err)
	}
	tl, err := jobref.ParseTimelineID(j.Timeline)
	if err != nil {
		errs = append(errs, err)
	}
	jobID, err := jobref.ParseJobID(j.JobID)
	if err != nil {
		errs = append(errs, err)
	}
	project, err := jobref.ParseProjectID(j.Project)
	if err != nil {
		errs = append(errs, err)
	}
	token, err := jobref.ParseLockToken(j.LockToken)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return jobref.Identity{}, errors.Join(errs...)
	}

	return jobref.Identity{
		Plan:      plan,
		Timeline:  tl,
		Job:       jobID,
		Project:   project,
		Build:     jobref.BuildID(j.Build),
		Container: jobref.ContainerID(j.Container),
		Pool:      jobref.PoolID(j.Pool),
		Request:   jobref.RequestID(j.Request),
		LockToken: token,
		Worker:    j.Worker,
	}, nil
}

// Masker builds the secret masker from the job's secret
// declarations.
func (j *Job) Masker() (*secretmask.Masker, error) {
	masker := secretmask.New()
	for i, secret := range j.Secrets {
		if secret.Value != "" {
			masker.Add(secret.Value)
		}
		if secret.Pattern != "" {
			if err := masker.AddRegex(secret.Pattern); err != nil {
				return nil, fmt.Errorf("secret %d: %w", i+1, err)
			}
		}
	}
	return masker, nil
}
