// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drover-build/drover/lib/jobref"
)

// waitTimeout bounds every blocking wait in these tests. Generous,
// because CI machines stall; the fake clock keeps the happy path
// instant regardless.
const waitTimeout = 5 * time.Second

// testEpoch is the fake clock's starting instant.
var testEpoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testIdentity returns a complete identity bundle for channel tests.
func testIdentity() jobref.Identity {
	return jobref.Identity{
		Plan:      jobref.NewPlanID(),
		Timeline:  jobref.NewTimelineID(),
		Job:       jobref.NewJobID(),
		Project:   jobref.ProjectID(jobref.NewPlanID()),
		Build:     jobref.BuildID(77),
		Container: jobref.ContainerID(4242),
		Pool:      jobref.PoolID(3),
		Request:   jobref.RequestID(9001),
		LockToken: jobref.LockToken(jobref.NewPlanID()),
		Worker:    "worker-07",
	}
}

// stagePageFile writes a throwaway page file and returns its path.
func stagePageFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("staging page file: %v", err)
	}
	return path
}
