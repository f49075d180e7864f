// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-P-N" where P is the
// test process's PID and N is a monotonically increasing integer. The
// result is a valid container id, distinct across tests in one process
// and across concurrently running test binaries that share a scratch
// root.
//
//	id := testutil.UniqueID("persist")  // "persist-4711-1", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, os.Getpid(), uniqueCounter.Add(1))
}
