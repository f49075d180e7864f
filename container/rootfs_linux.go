// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// oldRootDirName is the directory inside the new root where pivot_root
// parks the previous root until it is detached.
const oldRootDirName = ".cell-oldroot"

// SwitchOptions configures [SwitchRoot].
type SwitchOptions struct {
	// MountProc mounts a fresh proc filesystem at /proc inside the new
	// root, reflecting the new PID namespace.
	MountProc bool

	Logger *slog.Logger
}

// SwitchRoot makes newRoot the process's root and detaches the previous
// root. On success nothing outside newRoot is reachable by path: the
// previous root is verified to be unmounted and its mount point removed.
//
// The calling process must be in a mount namespace whose propagation has
// been made private, otherwise the detach would propagate to the host.
func SwitchRoot(newRoot string, opts SwitchOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	putOld := filepath.Join(newRoot, oldRootDirName)
	if err := ensureEmptyDir(putOld); err != nil {
		return stageError(StageRootSwitch, "prepare old root", putOld, err)
	}

	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return stageError(StageRootSwitch, "pivot_root", newRoot, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return stageError(StageRootSwitch, "chdir", "/", err)
	}

	// /proc is mounted before the old root goes away so that mount-point
	// checks below read this namespace's mount table.
	if opts.MountProc {
		if err := mountProc(); err != nil {
			return err
		}
	}

	oldRoot := "/" + oldRootDirName
	if err := unix.Unmount(oldRoot, unix.MNT_DETACH); err != nil {
		return stageError(StageRootSwitch, "detach old root", oldRoot, err)
	}
	if err := verifyDetached(oldRoot); err != nil {
		return err
	}

	logger.Debug("root switched", "new_root", newRoot)
	return nil
}

// verifyDetached confirms the previous root is unreachable. The mount
// table must not list the directory, and removing the directory must
// succeed; a directory that is still a mount point cannot be removed.
func verifyDetached(oldRoot string) error {
	mounted, err := mountinfo.Mounted(oldRoot)
	if err != nil {
		return stageError(StageRootSwitch, "verify detach", oldRoot, fmt.Errorf("%w: %w", ErrOldRootAttached, err))
	}
	if mounted {
		return stageError(StageRootSwitch, "verify detach", oldRoot, ErrOldRootAttached)
	}
	if err := unix.Rmdir(oldRoot); err != nil {
		return stageError(StageRootSwitch, "verify detach", oldRoot, fmt.Errorf("%w: %w", ErrOldRootAttached, err))
	}
	return nil
}

// mountProc mounts proc at /proc of the current root.
func mountProc() error {
	if err := os.MkdirAll("/proc", 0555); err != nil {
		return stageError(StageMount, "create /proc", "/proc", err)
	}
	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC)
	if err := unix.Mount("proc", "/proc", "proc", flags, ""); err != nil {
		return stageError(StageMount, "mount proc", "/proc", err)
	}
	return nil
}

// ensureEmptyDir creates dir, or accepts it if it already exists and is
// empty. A populated directory would be shadowed by the previous root and
// then removed, so it is refused.
func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err == nil {
		if len(entries) > 0 {
			return fmt.Errorf("%s exists and is not empty", dir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Mkdir(dir, 0700)
}
