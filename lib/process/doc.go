// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. These functions
// centralize the raw I/O that happens before or after the structured
// logger exists:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after main() finishes, carrying the exit status an
//     error asks for (a launch stage code, or the launched command's
//     own status).
package process
