// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for cell.
//
// Configuration is loaded from a single file specified by either the
// CELL_CONFIG environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no ~/.config discovery and no automatic file
// search. YAML is the native format; files ending in .json or .jsonc are
// accepted with comments and trailing commas stripped.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter: leftover
// overlay work state fails the launch instead of being reset, and the
// image root is fingerprinted before and after every launch.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${CELL_SCRATCH_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Container, Logging
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other cell packages.
package config
