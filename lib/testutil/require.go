// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// failer is the slice of *testing.T the helpers need. Taking an
// interface keeps the package importable from helper types that wrap
// a T.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch, failing the test if none
// arrives within timeout. The timeout is a hang guard for broken
// plumbing, not a scheduling assertion; pass it generously.
//
//	call := testutil.RequireReceive(t, remote.Calls, 5*time.Second, "waiting for flush")
func RequireReceive[T any](t failer, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	guard := time.NewTimer(timeout)
	defer guard.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", describe(msgAndArgs))
		}
		return v
	case <-guard.C:
		t.Fatalf("no value within %v: %s", timeout, describe(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close (or yield a value) within
// timeout, failing the test otherwise. For completion channels that
// signal by closing.
//
//	testutil.RequireClosed(t, queue.Idle(), 5*time.Second, "queue idle")
func RequireClosed(t failer, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	guard := time.NewTimer(timeout)
	defer guard.Stop()
	select {
	case <-ch:
	case <-guard.C:
		t.Fatalf("channel not closed within %v: %s", timeout, describe(msgAndArgs))
	}
}

// describe renders the optional trailing arguments: a plain value, or
// a format string plus operands.
func describe(args []any) string {
	switch len(args) {
	case 0:
		return "(no detail)"
	case 1:
		return fmt.Sprint(args[0])
	}
	if format, ok := args[0].(string); ok {
		return fmt.Sprintf(format, args[1:]...)
	}
	return fmt.Sprint(args...)
}
