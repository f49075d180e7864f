// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package container launches a command inside fresh mount and PID
// namespaces whose root filesystem is a copy-on-write overlay of a
// read-only image directory.
//
// A launch is a strict four-stage pipeline:
//
//   - [Launcher.Launch] runs in the calling process. It validates the
//     [Descriptor], re-executes the current binary with CLONE_NEWNS and
//     CLONE_NEWPID, hands the descriptor to the child over a pipe, and
//     blocks until the child is reaped.
//   - [Assembler.Assemble] runs in the child. It creates the per-container
//     scratch hierarchy ([Layout]) and mounts an overlay with the image as
//     the lower layer and upper/ as the only writable layer.
//   - [SwitchRoot] pivots the child into the merged view and detaches the
//     previous root. Detachment is verified; an unverifiable switch fails.
//   - [Exec] replaces the child with the target command, resolving argv[0]
//     against the new root.
//
// The child side is entered through [Init], which the binary's main
// function must call when [IsInit] reports true, before doing anything
// else:
//
//	func main() {
//	    if container.IsInit() {
//	        container.Init()
//	    }
//	    ...
//	}
//
// Failures are reported as [*Error] values tagged with the [Stage] that
// failed. Once the command has been exec'd, the parent only observes its
// exit status, surfaced as [*ExitError] when non-zero. Both types carry an
// ExitCode method so a CLI can propagate a distinct status per stage.
//
// The scratch hierarchy is never removed by this package: repeated
// launches with the same id reuse upper/ and see earlier writes.
// Concurrent launches that share an id are not supported.
package container
