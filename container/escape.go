// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// EscapeTest defines a check, run from inside a container, that tries to
// reach something the root switch should have cut off. A nil result
// means the escape was blocked; an error describes how it succeeded.
type EscapeTest struct {
	Name        string
	Description string
	Category    string // "filesystem", "process"
	Severity    string // "critical", "high", "medium"
	Run         func(ctx context.Context) error
}

// EscapeTestResult holds the result of running an escape test.
type EscapeTestResult struct {
	Test   *EscapeTest
	Passed bool   // True if escape was blocked.
	Error  string // If escape succeeded, describes how.
}

// EscapeTests contains all escape detection tests.
var EscapeTests = []EscapeTest{
	{
		Name:        "old-root-path",
		Description: "Look for the previous root's mount point",
		Category:    "filesystem",
		Severity:    "critical",
		Run: func(ctx context.Context) error {
			_, err := os.Lstat("/" + oldRootDirName)
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("stat /%s: %v", oldRootDirName, err)
			}
			return fmt.Errorf("/%s still exists", oldRootDirName)
		},
	},
	{
		Name:        "root-parent",
		Description: "Walk above / with ..",
		Category:    "filesystem",
		Severity:    "critical",
		Run: func(ctx context.Context) error {
			var root, parent unix.Stat_t
			if err := unix.Stat("/", &root); err != nil {
				return fmt.Errorf("stat /: %v", err)
			}
			if err := unix.Stat("/../../..", &parent); err != nil {
				return fmt.Errorf("stat /../../..: %v", err)
			}
			if root.Dev != parent.Dev || root.Ino != parent.Ino {
				return fmt.Errorf("/../../.. resolves outside / (dev %d ino %d)", parent.Dev, parent.Ino)
			}
			return nil
		},
	},
	{
		Name:        "mount-table-old-root",
		Description: "Search the mount table for the previous root",
		Category:    "filesystem",
		Severity:    "critical",
		Run: func(ctx context.Context) error {
			mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter("/" + oldRootDirName))
			if err != nil {
				// Without /proc there is no mount table to read; the
				// path checks above still apply.
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return fmt.Errorf("reading mount table: %v", err)
			}
			if len(mounts) > 0 {
				return fmt.Errorf("%d mounts remain under /%s (first: %s)", len(mounts), oldRootDirName, mounts[0].Mountpoint)
			}
			return nil
		},
	},
	{
		Name:        "root-filesystem",
		Description: "Check that / is an overlay",
		Category:    "filesystem",
		Severity:    "high",
		Run: func(ctx context.Context) error {
			var stat unix.Statfs_t
			if err := unix.Statfs("/", &stat); err != nil {
				return fmt.Errorf("statfs /: %v", err)
			}
			if stat.Type != unix.OVERLAYFS_SUPER_MAGIC && stat.Type != unix.FUSE_SUPER_MAGIC {
				return fmt.Errorf("/ is filesystem type %#x, not an overlay", stat.Type)
			}
			return nil
		},
	},
	{
		Name:        "host-init",
		Description: "Look for an init process from another mount namespace",
		Category:    "process",
		Severity:    "high",
		Run: func(ctx context.Context) error {
			if os.Getpid() == 1 {
				return nil
			}
			self, err := os.Stat("/proc/self/ns/mnt")
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("stat /proc/self/ns/mnt: %v", err)
			}
			initNamespace, err := os.Stat("/proc/1/ns/mnt")
			if err != nil {
				// Unreadable is fine: PID 1 is not ours to inspect.
				return nil
			}
			if !os.SameFile(self, initNamespace) {
				return fmt.Errorf("PID 1 runs in a different mount namespace")
			}
			return nil
		},
	},
}

// EscapeTestRunner runs escape tests.
type EscapeTestRunner struct {
	tests   []EscapeTest
	results []EscapeTestResult
}

// NewEscapeTestRunner creates a runner over [EscapeTests].
func NewEscapeTestRunner() *EscapeTestRunner {
	return &EscapeTestRunner{
		tests:   EscapeTests,
		results: make([]EscapeTestResult, 0),
	}
}

// RunAll runs all escape tests and returns results.
func (r *EscapeTestRunner) RunAll(ctx context.Context) []EscapeTestResult {
	return r.run(ctx, "")
}

// RunCategory runs tests in a specific category.
func (r *EscapeTestRunner) RunCategory(ctx context.Context, category string) []EscapeTestResult {
	return r.run(ctx, category)
}

func (r *EscapeTestRunner) run(ctx context.Context, category string) []EscapeTestResult {
	r.results = make([]EscapeTestResult, 0, len(r.tests))

	for i := range r.tests {
		test := &r.tests[i]
		if category != "" && test.Category != category {
			continue
		}

		result := EscapeTestResult{Test: test, Passed: true}

		testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := test.Run(testCtx)
		cancel()

		if err != nil {
			result.Passed = false
			result.Error = err.Error()
		}
		r.results = append(r.results, result)
	}

	return r.results
}

// Summary returns a summary of test results.
func (r *EscapeTestRunner) Summary() (passed, failed int) {
	for _, result := range r.results {
		if result.Passed {
			passed++
		} else {
			failed++
		}
	}
	return
}

// PrintResults writes test results to a writer.
func (r *EscapeTestRunner) PrintResults(w io.Writer) {
	fmt.Fprintf(w, "Running escape detection tests...\n\n")

	for _, result := range r.results {
		status := "[PASS]"
		if !result.Passed {
			status = "[FAIL]"
		}
		fmt.Fprintf(w, "%s %s: %s\n", status, result.Test.Name, result.Test.Description)
		if !result.Passed {
			fmt.Fprintf(w, "       Escape vector: %s\n", result.Error)
		}
	}

	passed, failed := r.Summary()
	fmt.Fprintf(w, "\n%d/%d tests passed", passed, passed+failed)
	if failed == 0 {
		fmt.Fprintf(w, " - root isolation verified\n")
	} else {
		fmt.Fprintf(w, " - %d escape vectors detected!\n", failed)
	}
}

// HasFailures returns true if any escape succeeded.
func (r *EscapeTestRunner) HasFailures() bool {
	_, failed := r.Summary()
	return failed > 0
}
