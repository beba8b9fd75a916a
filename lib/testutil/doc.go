// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Drover packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (a select guarded by a wall-clock timer) so individual
// tests never arm their own. These are the only place in the test
// suite where real wall-clock timeouts are used; the components under
// test keep time through lib/clock and are driven by a FakeClock.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Drover-internal dependencies.
package testutil
