// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cell runs a command inside an isolated overlay root.
//
// The run subcommand launches the command in a new mount namespace and
// a new PID namespace. The command's root is an overlay whose read-only
// lower layer is an image directory and whose writable layer lives
// under /tmp/container/<id>. Writes persist across launches with the
// same id. The host filesystem is unreachable once the root has been
// switched.
//
// The same binary is re-executed as the container's init process, so
// main checks [container.IsInit] before parsing any arguments.
//
// Subcommands:
//
//	run            launch a command in a container
//	validate       pre-flight checks without launching
//	fingerprint    BLAKE3 tree hash of a directory
//	escape-test    probe the current root for paths to the host
//	capabilities   report host support for each overlay driver
//	version        version, commit, and binary digest
//
// Configuration is read from --config, then $CELL_CONFIG, then built-in
// defaults. See lib/config for the file format.
package main
