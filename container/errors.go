// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies the pipeline step that produced an [Error].
type Stage string

const (
	// StageInvocation covers malformed descriptors, detected before any
	// privileged operation.
	StageInvocation Stage = "invocation"

	// StageNamespace covers failure to spawn the isolated child.
	StageNamespace Stage = "namespace"

	// StageImage covers a missing or unusable image root.
	StageImage Stage = "image"

	// StageMount covers directory preparation and overlay/proc mounts.
	StageMount Stage = "mount"

	// StageRootSwitch covers pivot_root and old-root detachment.
	StageRootSwitch Stage = "root-switch"

	// StageExec covers resolving and executing the target command.
	StageExec Stage = "exec"
)

// Exit codes reported by the child (and by the CLI) for each failing
// stage. The launched command's own status is propagated unchanged, so a
// command that itself exits with one of these values is indistinguishable
// at the process boundary; the parent uses the failure report, not the
// code, to decide whether a stage failed.
const (
	ExitCodeInvocation    = 121
	ExitCodeNamespace     = 122
	ExitCodeImage         = 123
	ExitCodeMount         = 124
	ExitCodeRootSwitch    = 125
	ExitCodeNotExecutable = 126
	ExitCodeNotFound      = 127
)

// Sentinel errors wrapped by [Error] for conditions that have no errno.
var (
	ErrImageNotFound    = errors.New("image not found")
	ErrStaleMount       = errors.New("merged directory is already a mount point")
	ErrDirtyWork        = errors.New("overlay work directory holds state from a previous run")
	ErrOldRootAttached  = errors.New("previous root is still attached")
	ErrImageModified    = errors.New("image root changed during launch")
	ErrUnsafePath       = errors.New("path is unsafe for overlay mount options")
	ErrUntrustedScratch = errors.New("scratch directory is not private to the launcher")
	ErrInvalidID        = errors.New("invalid container id")
	ErrEmptyCommand     = errors.New("command vector is empty")
)

// Error is a launch failure attributed to a pipeline stage.
type Error struct {
	Stage Stage
	Op    string // Operation within the stage, e.g. "pivot_root".
	Path  string // Path the operation acted on, if any.
	Err   error

	// code overrides the stage's default exit code (exec distinguishes
	// not-found from not-executable).
	code int
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status that represents this failure.
func (e *Error) ExitCode() int {
	if e.code != 0 {
		return e.code
	}
	return e.Stage.ExitCode()
}

// ExitCode returns the default exit status for a failure in stage s.
func (s Stage) ExitCode() int {
	switch s {
	case StageInvocation:
		return ExitCodeInvocation
	case StageNamespace:
		return ExitCodeNamespace
	case StageImage:
		return ExitCodeImage
	case StageMount:
		return ExitCodeMount
	case StageRootSwitch:
		return ExitCodeRootSwitch
	case StageExec:
		return ExitCodeNotFound
	default:
		return 1
	}
}

func stageError(stage Stage, op, path string, err error) *Error {
	return &Error{Stage: stage, Op: op, Path: path, Err: err}
}

// StageOf returns the stage of the first [*Error] in err's chain.
func StageOf(err error) (Stage, bool) {
	var launchErr *Error
	if errors.As(err, &launchErr) {
		return launchErr.Stage, true
	}
	return "", false
}

// ExitError reports that the launched command ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// ExitCode returns the command's exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
