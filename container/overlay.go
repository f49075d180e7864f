// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/cell/lib/clock"
	"github.com/moby/sys/mountinfo"
)

// maxMountData is the kernel's limit on the mount(2) data argument (one
// page). Longer option strings are truncated by the kernel, so they are
// rejected up front.
const maxMountData = 4096

// Assembler builds the overlay for a container.
//
// Security invariant: the image root is only ever used as the lower
// layer. Every directory the assembler creates lives under the scratch
// root, and writes from the container land in upper/.
type Assembler struct {
	ScratchRoot string
	Driver      Driver
	WorkPolicy  WorkPolicy
	Logger      *slog.Logger

	// Clock paces the fuse-overlayfs readiness poll. Nil means the
	// real clock.
	Clock clock.Clock
}

// Assemble prepares the scratch hierarchy for d and mounts the overlay at
// the layout's merged directory. It must run inside a private mount
// namespace.
func (a *Assembler) Assemble(d Descriptor) (Layout, error) {
	layout, err := a.Prepare(d)
	if err != nil {
		return Layout{}, err
	}

	if err := a.mount(d.ImageRoot, layout); err != nil {
		return Layout{}, err
	}

	a.logger().Debug("overlay mounted",
		"driver", a.driver(),
		"lower", d.ImageRoot,
		"merged", layout.Merged,
	)
	return layout, nil
}

// Prepare performs every step of [Assembler.Assemble] except the mount:
// it checks the image, creates the scratch directories, and applies the
// stale-state checks. A missing image is detected before anything is
// created.
func (a *Assembler) Prepare(d Descriptor) (Layout, error) {
	if err := statImage(d.ImageRoot); err != nil {
		return Layout{}, err
	}

	layout, err := NewLayout(a.ScratchRoot, d.ID)
	if err != nil {
		return Layout{}, stageError(StageMount, "layout", "", err)
	}

	for _, p := range []struct{ field, path string }{
		{"upper", layout.Upper},
		{"work", layout.Work},
		{"merged", layout.Merged},
	} {
		if err := validateOverlayPath(p.path, p.field); err != nil {
			return Layout{}, stageError(StageMount, "validate", p.path, err)
		}
	}
	options := layout.overlayOptions(d.ImageRoot)
	if len(options) >= maxMountData {
		return Layout{}, stageError(StageMount, "validate", layout.Merged,
			fmt.Errorf("%w: overlay options are %d bytes, limit is %d", ErrUnsafePath, len(options), maxMountData-1))
	}

	// The shared scratch root may have been created by any earlier
	// launch; "already exists" is success.
	if err := os.MkdirAll(layout.ScratchRoot, 0700); err != nil {
		return Layout{}, stageError(StageMount, "create scratch root", layout.ScratchRoot, err)
	}
	if err := checkPrivateDir(layout.ScratchRoot); err != nil {
		return Layout{}, stageError(StageMount, "check scratch root", layout.ScratchRoot, err)
	}

	// Once the scratch root is private, nobody else can plant entries
	// under it. A container directory that securejoin had to resolve
	// through a symlink was planted before that.
	if lexical := filepath.Join(layout.ScratchRoot, d.ID); layout.Dir != lexical {
		return Layout{}, stageError(StageMount, "check container directory", lexical,
			fmt.Errorf("%w: %s resolves to %s", ErrUntrustedScratch, lexical, layout.Dir))
	}
	if err := ensureDir(layout.Dir); err != nil {
		return Layout{}, stageError(StageMount, "create directory", layout.Dir, err)
	}
	if err := checkPrivateDir(layout.Dir); err != nil {
		return Layout{}, stageError(StageMount, "check container directory", layout.Dir, err)
	}
	for _, dir := range []string{layout.Upper, layout.Work, layout.Merged} {
		if err := ensureDir(dir); err != nil {
			return Layout{}, stageError(StageMount, "create directory", dir, err)
		}
	}

	mounted, err := mountinfo.Mounted(layout.Merged)
	if err != nil {
		return Layout{}, stageError(StageMount, "check mount", layout.Merged, err)
	}
	if mounted {
		return Layout{}, stageError(StageMount, "check mount", layout.Merged, ErrStaleMount)
	}

	if err := a.applyWorkPolicy(layout.Work); err != nil {
		return Layout{}, err
	}

	return layout, nil
}

// statImage checks that imageRoot exists and is a directory.
func statImage(imageRoot string) error {
	info, err := os.Stat(imageRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stageError(StageImage, "stat", imageRoot, fmt.Errorf("%w: %w", ErrImageNotFound, err))
		}
		return stageError(StageImage, "stat", imageRoot, err)
	}
	if !info.IsDir() {
		return stageError(StageImage, "stat", imageRoot, fmt.Errorf("image root is not a directory"))
	}
	return nil
}

// applyWorkPolicy inspects work/ for leftovers from a run that did not
// unmount cleanly.
func (a *Assembler) applyWorkPolicy(work string) error {
	leftovers, err := workLeftovers(work)
	if err != nil {
		return stageError(StageMount, "inspect work", work, err)
	}
	if len(leftovers) == 0 {
		return nil
	}

	policy := a.WorkPolicy
	if policy == "" {
		policy = WorkPolicyReset
	}

	switch policy {
	case WorkPolicyReject:
		return stageError(StageMount, "inspect work", work,
			fmt.Errorf("%w: %s", ErrDirtyWork, strings.Join(leftovers, ", ")))
	case WorkPolicyReset:
		a.logger().Warn("resetting overlay work directory", "work", work, "entries", leftovers)
		entries, err := os.ReadDir(work)
		if err != nil {
			return stageError(StageMount, "reset work", work, err)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(work, entry.Name())); err != nil {
				return stageError(StageMount, "reset work", work, err)
			}
		}
		return nil
	default:
		return stageError(StageMount, "inspect work", work, fmt.Errorf("unknown work policy %q", policy))
	}
}

// workLeftovers lists what a clean overlay unmount would not have left in
// work/. The kernel keeps an empty work/work (and work/index when the
// index feature is on) between mounts; anything else, or anything inside
// those two, is state from an interrupted run.
func workLeftovers(work string) ([]string, error) {
	entries, err := os.ReadDir(work)
	if err != nil {
		return nil, err
	}

	var leftovers []string
	for _, entry := range entries {
		name := entry.Name()
		if (name == "work" || name == "index") && entry.IsDir() {
			children, err := os.ReadDir(filepath.Join(work, name))
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				leftovers = append(leftovers, filepath.Join(name, child.Name()))
			}
			continue
		}
		leftovers = append(leftovers, name)
	}
	return leftovers, nil
}

// ensureDir creates dir with owner-only permissions if it does not exist.
// Existence is checked before creation; an EEXIST from Mkdir after a
// failed stat means another process is racing on the same id, which is
// reported rather than tolerated. A symlink is never followed: the
// overlay would take its target as a layer.
func ensureDir(dir string) error {
	info, err := os.Lstat(dir)
	if err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symlink", ErrUntrustedScratch, dir)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Mkdir(dir, 0700)
}

// validateOverlayPath checks that a path is safe for use in overlay mount
// options. Options are comma separated, so a path containing a comma
// could inject additional options (e.g. "/img,upperdir=/etc").
func validateOverlayPath(path, field string) error {
	if strings.Contains(path, ",") {
		return fmt.Errorf("%w: %s path %q contains a comma", ErrUnsafePath, field, path)
	}
	if strings.ContainsAny(path, "\x00\n\r\t") {
		return fmt.Errorf("%w: %s path %q contains control characters", ErrUnsafePath, field, path)
	}
	return nil
}

// validateLowerPath additionally rejects colons, which overlayfs treats
// as a separator between stacked lower layers.
func validateLowerPath(path string) error {
	if err := validateOverlayPath(path, "lower"); err != nil {
		return err
	}
	if strings.Contains(path, ":") {
		return fmt.Errorf("%w: lower path %q contains a colon", ErrUnsafePath, path)
	}
	return nil
}

func (a *Assembler) driver() Driver {
	if a.Driver == "" {
		return DriverKernel
	}
	return a.Driver
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
