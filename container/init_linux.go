// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// InitArg0 is the argv[0] the launcher gives the re-executed binary so
// that [IsInit] can recognize the init child.
const InitArg0 = "cell-init"

// File descriptors the init child inherits from [Launcher.Launch]
// (ExtraFiles[0] and ExtraFiles[1]).
const (
	handoffFD = 3
	statusFD  = 4
)

// IsInit reports whether the current process is the init child of a
// launch: started as [InitArg0] and running as PID 1 of a fresh PID
// namespace. Programs that call [Launcher.Launch] must check this at the
// top of main and call [Init] when it is true.
func IsInit() bool {
	return len(os.Args) > 0 && os.Args[0] == InitArg0 && os.Getpid() == 1
}

// Init runs the child side of a launch: assemble the overlay, switch
// root, exec the command. It never returns. On failure it writes a
// report to the status pipe and exits with the failing stage's code.
func Init() {
	// Mount and pivot_root act on the calling thread's filesystem
	// context; keep every step on one thread.
	runtime.LockOSThread()

	if err := checkDescriptors(handoffFD, statusFD); err != nil {
		fmt.Fprintf(os.Stderr, "cell-init: %v\n", err)
		os.Exit(ExitCodeInvocation)
	}
	status := os.NewFile(statusFD, "status")
	handoff := os.NewFile(handoffFD, "handoff")
	// The status pipe must close on a successful exec; that EOF is how
	// the parent learns the command started.
	unix.CloseOnExec(statusFD)

	err := runInit(handoff)

	var launchErr *Error
	if !errors.As(err, &launchErr) {
		launchErr = stageError(StageInvocation, "init", "", err)
	}
	if writeErr := writeReport(status, launchErr); writeErr != nil {
		fmt.Fprintf(os.Stderr, "cell-init: %v (reporting failed: %v)\n", launchErr, writeErr)
	}
	status.Close()
	os.Exit(launchErr.ExitCode())
}

// checkDescriptors fails for the first fd that is not open, as when the
// binary is started as [InitArg0] by something other than the launcher.
func checkDescriptors(fds ...int) error {
	for _, fd := range fds {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			return fmt.Errorf("missing handoff descriptor %d: %w", fd, err)
		}
	}
	return nil
}

// runInit only returns on failure.
func runInit(handoff *os.File) error {
	// Nothing mounted or unmounted from here on may propagate back to
	// the host's mount namespace.
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return stageError(StageNamespace, "make mounts private", "/", err)
	}

	req, err := readRequest(handoff)
	handoff.Close()
	if err != nil {
		return stageError(StageInvocation, "read request", "", err)
	}

	logger := initLogger(req.LogLevel)
	if err := req.Descriptor.Validate(); err != nil {
		return err
	}

	assembler := &Assembler{
		ScratchRoot: req.ScratchRoot,
		Driver:      req.Driver,
		WorkPolicy:  req.WorkPolicy,
		Logger:      logger,
	}
	layout, err := assembler.Assemble(req.Descriptor)
	if err != nil {
		return err
	}

	if err := SwitchRoot(layout.Merged, SwitchOptions{MountProc: req.MountProc, Logger: logger}); err != nil {
		return err
	}

	logger.Debug("executing command", "argv", req.Descriptor.Argv)
	return Exec(req.Descriptor.Argv, req.DefaultPath)
}

// initLogger writes text records to the container's stderr at the level
// the parent asked for.
func initLogger(level string) *slog.Logger {
	var parsed slog.Level
	if level == "" || parsed.UnmarshalText([]byte(level)) != nil {
		parsed = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})).With("component", "cell-init")
}
