// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package version stamps drover binaries.
//
// Tagged release builds set Release via -ldflags:
//
//	go build -ldflags "-X github.com/drover-build/drover/lib/version.Release=v1.2.0"
//
// Untagged builds report the VCS revision the Go toolchain recorded in
// the binary, so a stray worker can always be traced to a commit.
package version

import "runtime/debug"

// Release is the semantic version of a tagged build. Empty on
// untagged builds, which fall back to VCS metadata.
var Release = ""

// Info returns the version line printed by --version.
func Info() string {
	if Release != "" {
		return Release
	}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}
	revision := ""
	dirty := false
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += "-dirty"
	}
	return "devel+" + revision
}
