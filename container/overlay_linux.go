// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/bureau-foundation/cell/lib/clock"
	"golang.org/x/sys/unix"
)

// Readiness polling for fuse-overlayfs, which daemonizes before the
// kernel finishes registering the mount.
const (
	mountPollInterval = 20 * time.Millisecond
	mountPollTimeout  = time.Second
)

// mount attaches the overlay at layout.Merged using the configured
// driver. There is no fallback between drivers and no retry: a failed
// mount is reported as is.
func (a *Assembler) mount(lower string, layout Layout) error {
	options := layout.overlayOptions(lower)

	switch a.driver() {
	case DriverKernel:
		if err := unix.Mount("overlay", layout.Merged, "overlay", unix.MS_RELATIME, options); err != nil {
			return stageError(StageMount, "mount overlay", layout.Merged, err)
		}
		return nil

	case DriverFuse:
		return mountFuseOverlay(clock.Or(a.Clock), options, layout.Merged)

	default:
		return stageError(StageMount, "mount overlay", layout.Merged, fmt.Errorf("unknown overlay driver %q", a.Driver))
	}
}

// mountFuseOverlay runs fuse-overlayfs and waits for the mount to
// register. The helper is resolved on the host PATH, before the root
// switch. A mount that never becomes ready is left for the kernel to
// reap when the mount namespace dies with the child.
func mountFuseOverlay(clk clock.Clock, options, merged string) error {
	fuseBin, err := exec.LookPath("fuse-overlayfs")
	if err != nil {
		return stageError(StageMount, "mount overlay", merged, fmt.Errorf("fuse-overlayfs not found: %w", err))
	}

	args := []string{"-o", options, merged}
	output, err := exec.Command(fuseBin, args...).CombinedOutput()
	if err != nil {
		return stageError(StageMount, "mount overlay", merged,
			fmt.Errorf("fuse-overlayfs failed: %w\nOutput: %s", err, output))
	}

	if err := waitForMount(clk, merged, isFuseMount); err != nil {
		return stageError(StageMount, "mount overlay", merged, err)
	}
	return nil
}

// waitForMount polls ready until it reports path mounted or the timeout
// passes on clk.
func waitForMount(clk clock.Clock, path string, ready func(string) bool) error {
	deadline := clk.Now().Add(mountPollTimeout)
	for {
		if ready(path) {
			return nil
		}
		if !clk.Now().Before(deadline) {
			return fmt.Errorf("mount at %s not ready after %v", path, mountPollTimeout)
		}
		clk.Sleep(mountPollInterval)
	}
}

func isFuseMount(path string) bool {
	var stat unix.Statfs_t
	return unix.Statfs(path, &stat) == nil && stat.Type == unix.FUSE_SUPER_MAGIC
}
