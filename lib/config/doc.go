// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Drover
// worker.
//
// Configuration is loaded from a single file specified by either the
// DROVER_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This keeps configuration
// deterministic and auditable with no hidden overrides.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Coordinator, Staging, Delivery
//   - [Default] -- returns a Config with the standard defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Drover packages.
package config
