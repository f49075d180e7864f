// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Exec replaces the current process image with argv. argv[0] is resolved
// against PATH in the current root, so this runs after [SwitchRoot]. When
// PATH is unset, defaultPath (or [DefaultPath] if empty) is used and
// exported to the command.
//
// Exec only returns on failure. Resolution failures exit with
// [ExitCodeNotFound]; a file that exists but cannot be executed exits
// with [ExitCodeNotExecutable].
func Exec(argv []string, defaultPath string) error {
	if len(argv) == 0 || argv[0] == "" {
		return stageError(StageExec, "resolve", "", ErrEmptyCommand)
	}

	if _, ok := os.LookupEnv("PATH"); !ok {
		if defaultPath == "" {
			defaultPath = DefaultPath
		}
		if err := os.Setenv("PATH", defaultPath); err != nil {
			return stageError(StageExec, "resolve", argv[0], err)
		}
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return execError("resolve", argv[0], err)
	}

	err = unix.Exec(path, argv, os.Environ())
	return execError("execve", path, err)
}

// execError classifies a resolution or execve failure. Permission and
// format errors mean the file exists but cannot run; everything else is
// reported as not found.
func execError(op, path string, err error) *Error {
	launchErr := stageError(StageExec, op, path, err)
	launchErr.code = ExitCodeNotFound
	if errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.ENOEXEC) || errors.Is(err, unix.EISDIR) {
		launchErr.code = ExitCodeNotExecutable
	}
	return launchErr
}
