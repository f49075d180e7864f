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

// scratchTmpfsOptions keeps the tmpfs root as private as a directory the
// launcher would create itself.
const scratchTmpfsOptions = "mode=0700"

// checkPrivateDir refuses a directory that another user could have
// prepared or could still change: a symlink, a directory owned by a
// different uid, or one writable by group or others.
func checkPrivateDir(dir string) error {
	var stat unix.Stat_t
	if err := unix.Lstat(dir, &stat); err != nil {
		return &os.PathError{Op: "lstat", Path: dir, Err: err}
	}

	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
	case unix.S_IFLNK:
		return fmt.Errorf("%w: %s is a symlink", ErrUntrustedScratch, dir)
	default:
		return fmt.Errorf("%w: %s is not a directory", ErrUntrustedScratch, dir)
	}

	if uid := os.Geteuid(); int(stat.Uid) != uid {
		return fmt.Errorf("%w: %s is owned by uid %d, not %d", ErrUntrustedScratch, dir, stat.Uid, uid)
	}
	if stat.Mode&0o022 != 0 {
		return fmt.Errorf("%w: %s is writable by group or others (mode %04o)", ErrUntrustedScratch, dir, stat.Mode&0o7777)
	}
	return nil
}

// prepareScratchTmpfs creates the scratch root and mounts a tmpfs on it in
// the caller's mount namespace, where it outlives every launch. Upper and
// work directories then never sit on an overlay filesystem, which the
// kernel refuses as an overlay upper layer (the usual case inside another
// container). A scratch root that is already a mount point is used as is.
func prepareScratchTmpfs(scratchRoot string, logger *slog.Logger) error {
	if err := os.MkdirAll(scratchRoot, 0700); err != nil {
		return stageError(StageMount, "create scratch root", scratchRoot, err)
	}
	if err := checkPrivateDir(scratchRoot); err != nil {
		return stageError(StageMount, "check scratch root", scratchRoot, err)
	}

	mounted, err := mountinfo.Mounted(scratchRoot)
	if err != nil {
		return stageError(StageMount, "check mount", scratchRoot, err)
	}
	if mounted {
		logger.Debug("scratch root already mounted", "scratch_root", scratchRoot)
		return nil
	}

	// Mounting over existing container directories would hide their
	// upper layers until the tmpfs is unmounted.
	entries, err := os.ReadDir(scratchRoot)
	if err != nil {
		return stageError(StageMount, "inspect scratch root", scratchRoot, err)
	}
	if len(entries) > 0 {
		return stageError(StageMount, "mount scratch tmpfs", scratchRoot,
			fmt.Errorf("scratch root holds %d entries that a tmpfs would hide", len(entries)))
	}

	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV)
	if err := unix.Mount("tmpfs", scratchRoot, "tmpfs", flags, scratchTmpfsOptions); err != nil {
		return stageError(StageMount, "mount scratch tmpfs", scratchRoot, err)
	}
	logger.Info("mounted tmpfs on scratch root", "scratch_root", scratchRoot)
	return nil
}

// onOverlayFilesystem reports whether path, or its nearest existing
// ancestor, is on overlayfs.
func onOverlayFilesystem(path string, statfs func(string, *unix.Statfs_t) error) (bool, error) {
	for {
		var buf unix.Statfs_t
		err := statfs(path, &buf)
		if err == nil {
			return int64(buf.Type) == unix.OVERLAYFS_SUPER_MAGIC, nil
		}
		if !errors.Is(err, unix.ENOENT) || path == "/" {
			return false, &os.PathError{Op: "statfs", Path: path, Err: err}
		}
		path = filepath.Dir(path)
	}
}
