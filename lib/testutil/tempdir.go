// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"debug/elf"
	"os"
	"testing"
)

// ScratchDir creates a short-named directory directly in /tmp for use
// as a scratch root. t.TempDir() paths embed the test name, which can
// push overlay mount options toward the kernel's one-page limit.
//
// The directory is removed when the test completes. Removal is best
// effort: an overlay still mounted beneath it keeps it in place.
func ScratchDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "cell-test-*")
	if err != nil {
		t.Fatalf("creating scratch directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// RequireStaticBinary skips the test unless path is a statically linked
// ELF executable, one that can run from an image directory holding
// nothing else.
func RequireStaticBinary(t *testing.T, path string) {
	t.Helper()
	file, err := elf.Open(path)
	if err != nil {
		t.Skipf("%s is not an ELF binary: %v", path, err)
	}
	defer file.Close()

	for _, program := range file.Progs {
		if program.Type == elf.PT_INTERP {
			t.Skipf("%s is dynamically linked (build with CGO_ENABLED=0)", path)
		}
	}
}
