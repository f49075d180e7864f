// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxIDLength bounds the container id so scratch paths stay well below
// PATH_MAX regardless of the scratch root.
const MaxIDLength = 64

// Descriptor is everything a launch needs: which scratch hierarchy to use,
// which image to expose, and what to run. It is constructed by the caller
// and copied to the child; the child never shares it with the parent.
type Descriptor struct {
	// ID names the per-container scratch directory. It must be unique
	// among concurrent launches.
	ID string `cbor:"1,keyasint"`

	// ImageRoot is the absolute path of the read-only lower layer.
	ImageRoot string `cbor:"2,keyasint"`

	// Argv is the command vector. Argv[0] is resolved inside the new
	// root.
	Argv []string `cbor:"3,keyasint"`
}

// Validate checks the descriptor's invariants without touching the
// filesystem. Whether the image exists is checked later by the
// [Assembler], since that is an environment condition rather than a
// malformed request.
func (d Descriptor) Validate() error {
	if err := ValidateID(d.ID); err != nil {
		return stageError(StageInvocation, "validate id", "", err)
	}

	if d.ImageRoot == "" {
		return stageError(StageInvocation, "validate image", "", fmt.Errorf("image root is required"))
	}
	if !filepath.IsAbs(d.ImageRoot) {
		return stageError(StageInvocation, "validate image", d.ImageRoot, fmt.Errorf("image root must be an absolute path"))
	}
	if err := validateLowerPath(d.ImageRoot); err != nil {
		return stageError(StageInvocation, "validate image", d.ImageRoot, err)
	}

	if len(d.Argv) == 0 {
		return stageError(StageInvocation, "validate command", "", ErrEmptyCommand)
	}
	if d.Argv[0] == "" {
		return stageError(StageInvocation, "validate command", "", fmt.Errorf("argv[0] is empty"))
	}
	for i, arg := range d.Argv {
		if strings.IndexByte(arg, 0) >= 0 {
			return stageError(StageInvocation, "validate command", "", fmt.Errorf("argv[%d] contains a NUL byte", i))
		}
	}

	return nil
}

// ValidateID checks that id is safe to use as a single path component
// under the scratch root.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: id is %d bytes, limit is %d", ErrInvalidID, len(id), MaxIDLength)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: %q is a relative path segment", ErrInvalidID, id)
	}
	if !isAlphanumeric(id[0]) {
		return fmt.Errorf("%w: %q must start with a letter or digit", ErrInvalidID, id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if isAlphanumeric(c) || c == '-' || c == '_' || c == '.' {
			continue
		}
		return fmt.Errorf("%w: %q contains %q (allowed: letters, digits, '-', '_', '.')", ErrInvalidID, id, c)
	}
	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
