// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for cell packages.
//
// [ScratchDir] creates a short-named temporary directory in /tmp for
// use as a container scratch root, removed when the test completes.
//
// [RequireStaticBinary] skips a test unless a binary can run from an
// otherwise empty image: launch tests copy the test binary itself into
// a temporary image and run it as the container's command.
//
// [UniqueID] generates container ids that do not collide across tests
// or concurrently running test binaries.
//
// All helpers call t.Fatalf or t.Skipf rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no cell-internal dependencies.
package testutil
