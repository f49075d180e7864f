// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestStageExitCodesAreDistinct(t *testing.T) {
	stages := []Stage{StageInvocation, StageNamespace, StageImage, StageMount, StageRootSwitch}
	seen := make(map[int]Stage)
	for _, stage := range stages {
		code := stage.ExitCode()
		if other, ok := seen[code]; ok {
			t.Errorf("%s and %s share exit code %d", stage, other, code)
		}
		seen[code] = stage
	}
	for _, code := range []int{ExitCodeNotExecutable, ExitCodeNotFound} {
		if stage, ok := seen[code]; ok {
			t.Errorf("exec code %d collides with stage %s", code, stage)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	err := stageError(StageRootSwitch, "pivot_root", "/tmp/container/box/merged", unix.EINVAL)
	want := "root-switch: pivot_root /tmp/container/box/merged: invalid argument"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, unix.EINVAL) {
		t.Error("errno not reachable through Unwrap")
	}
	if err.ExitCode() != ExitCodeRootSwitch {
		t.Errorf("ExitCode() = %d, want %d", err.ExitCode(), ExitCodeRootSwitch)
	}
}

func TestStageOf(t *testing.T) {
	wrapped := fmt.Errorf("launching: %w", stageError(StageMount, "mount overlay", "", unix.EPERM))
	stage, ok := StageOf(wrapped)
	if !ok || stage != StageMount {
		t.Errorf("StageOf = %q, %v; want %q, true", stage, ok, StageMount)
	}

	if _, ok := StageOf(errors.New("plain")); ok {
		t.Error("StageOf found a stage in a plain error")
	}
}

func TestIsExitError(t *testing.T) {
	code, ok := IsExitError(fmt.Errorf("run: %w", &ExitError{Code: 7}))
	if !ok || code != 7 {
		t.Errorf("IsExitError = %d, %v; want 7, true", code, ok)
	}
	if _, ok := IsExitError(stageError(StageImage, "stat", "", ErrImageNotFound)); ok {
		t.Error("stage error reported as an exit error")
	}
}

func TestExecClassification(t *testing.T) {
	directory := t.TempDir()
	plain := filepath.Join(directory, "plain")
	if err := os.WriteFile(plain, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		argv []string
		code int
	}{
		{"missing absolute", []string{filepath.Join(directory, "missing")}, ExitCodeNotFound},
		{"missing on PATH", []string{"cell-test-no-such-command"}, ExitCodeNotFound},
		{"not executable", []string{plain}, ExitCodeNotExecutable},
		{"directory", []string{directory}, ExitCodeNotExecutable},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := Exec(test.argv, "")
			var launchErr *Error
			if !errors.As(err, &launchErr) {
				t.Fatalf("Exec = %v, want *Error", err)
			}
			if launchErr.Stage != StageExec {
				t.Errorf("Stage = %q, want %q", launchErr.Stage, StageExec)
			}
			if launchErr.ExitCode() != test.code {
				t.Errorf("ExitCode() = %d, want %d (%v)", launchErr.ExitCode(), test.code, err)
			}
		})
	}
}

func TestExecEmptyArgv(t *testing.T) {
	if err := Exec(nil, ""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Exec(nil) = %v, want ErrEmptyCommand", err)
	}
}
