// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// DefaultScratchRoot is the shared directory under which every
// container's scratch hierarchy lives.
const DefaultScratchRoot = "/tmp/container"

// Names of the directories inside a container's scratch directory.
const (
	upperDirName  = "upper"
	workDirName   = "work"
	mergedDirName = "merged"
)

// Layout holds the derived on-disk paths for one container. It is computed
// per launch and never stored.
type Layout struct {
	ScratchRoot string // Shared parent of all containers.
	Dir         string // <ScratchRoot>/<id>
	Upper       string // Writable overlay layer.
	Work        string // Overlay bookkeeping, never exposed to the command.
	Merged      string // Union view; becomes the command's root.
}

// NewLayout computes the scratch paths for id under scratchRoot.
//
// The container directory is resolved with securejoin, so a symlink at
// <scratchRoot>/<id> is followed only as far as it stays inside
// scratchRoot. The id is validated first; it never contributes more than
// one path component.
func NewLayout(scratchRoot, id string) (Layout, error) {
	if scratchRoot == "" {
		scratchRoot = DefaultScratchRoot
	}
	if !filepath.IsAbs(scratchRoot) {
		return Layout{}, fmt.Errorf("scratch root %q must be an absolute path", scratchRoot)
	}
	if err := ValidateID(id); err != nil {
		return Layout{}, err
	}

	root := filepath.Clean(scratchRoot)
	dir, err := securejoin.SecureJoin(root, id)
	if err != nil {
		return Layout{}, fmt.Errorf("resolving container directory for %q: %w", id, err)
	}

	return Layout{
		ScratchRoot: root,
		Dir:         dir,
		Upper:       filepath.Join(dir, upperDirName),
		Work:        filepath.Join(dir, workDirName),
		Merged:      filepath.Join(dir, mergedDirName),
	}, nil
}

// overlayOptions renders the mount data string for an overlay with a
// single lower layer. Callers must have validated every path with
// [validateOverlayPath] first.
func (l Layout) overlayOptions(lower string) string {
	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, l.Upper, l.Work)
}
