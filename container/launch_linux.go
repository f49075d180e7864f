// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/bureau-foundation/cell/lib/clock"
	"github.com/bureau-foundation/cell/lib/treehash"
	"golang.org/x/sys/unix"
)

// Config holds launcher settings shared by every launch.
type Config struct {
	// ScratchRoot is the shared parent of per-container scratch
	// directories. Defaults to [DefaultScratchRoot].
	ScratchRoot string

	// ScratchTmpfs mounts a tmpfs on the scratch root, in the launcher's
	// own mount namespace, before the first launch that finds it
	// unmounted. Needed when the scratch root would otherwise sit on
	// overlayfs.
	ScratchTmpfs bool

	// Driver selects the overlay implementation. Defaults to
	// [DriverKernel].
	Driver Driver

	// WorkPolicy decides how leftover overlay work state is handled.
	// Defaults to [WorkPolicyReset].
	WorkPolicy WorkPolicy

	// MountProc mounts a fresh /proc inside the new root.
	MountProc bool

	// DefaultPath is used to resolve argv[0] when PATH is unset.
	// Defaults to [DefaultPath].
	DefaultPath string

	// VerifyImage fingerprints the image root before and after each
	// launch and fails with [ErrImageModified] if it changed.
	VerifyImage bool

	// Executable is the binary re-executed as the init child. It must
	// call [IsInit]/[Init] first thing in main. Defaults to
	// /proc/self/exe.
	Executable string

	// Standard streams of the launched command. Nil means the
	// launcher's own streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ChildLogLevel is the minimum level the init child logs at.
	ChildLogLevel slog.Level

	// Clock times each launch for the exit log line. Nil means the real
	// clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Launcher runs commands in isolated containers.
type Launcher struct {
	config Config
	logger *slog.Logger
}

// New creates a launcher, filling in defaults and validating config.
func New(config Config) (*Launcher, error) {
	if config.ScratchRoot == "" {
		config.ScratchRoot = DefaultScratchRoot
	}
	if !filepath.IsAbs(config.ScratchRoot) {
		return nil, fmt.Errorf("scratch root %q must be an absolute path", config.ScratchRoot)
	}
	if err := validateOverlayPath(config.ScratchRoot, "scratch root"); err != nil {
		return nil, err
	}

	driver, err := ParseDriver(string(config.Driver))
	if err != nil {
		return nil, err
	}
	config.Driver = driver

	policy, err := ParseWorkPolicy(string(config.WorkPolicy))
	if err != nil {
		return nil, err
	}
	config.WorkPolicy = policy

	if config.DefaultPath == "" {
		config.DefaultPath = DefaultPath
	}
	if config.Executable == "" {
		config.Executable = "/proc/self/exe"
	}
	if config.Stdin == nil {
		config.Stdin = os.Stdin
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Launcher{config: config, logger: logger}, nil
}

// Launch runs d.Argv inside a new mount and PID namespace whose root is
// an overlay of d.ImageRoot. It blocks until the command exits.
//
// The result is nil if the command exited 0, an [*ExitError] carrying
// the command's status if it ran and failed (128+signal if it was
// killed), or an [*Error] naming the stage that failed before the
// command could start. Canceling ctx before the child is spawned aborts
// the launch; canceling it afterwards sends the child SIGTERM, and the
// command is still waited for.
func (l *Launcher) Launch(ctx context.Context, d Descriptor) error {
	if err := ctx.Err(); err != nil {
		return stageError(StageInvocation, "launch", "", err)
	}
	if err := d.Validate(); err != nil {
		return err
	}

	var before treehash.Hash
	if l.config.VerifyImage {
		var err error
		before, err = fingerprintImage(d.ImageRoot)
		if err != nil {
			return err
		}
	}

	if l.config.ScratchTmpfs {
		// An absent image must fail before anything is mounted.
		if err := statImage(d.ImageRoot); err != nil {
			return err
		}
		if err := prepareScratchTmpfs(l.config.ScratchRoot, l.logger); err != nil {
			return err
		}
	}

	l.logger.Info("launching container",
		"id", d.ID,
		"image", d.ImageRoot,
		"argv", d.Argv,
		"driver", l.config.Driver,
	)

	clk := clock.Or(l.config.Clock)
	started := clk.Now()
	code, err := l.run(ctx, d)
	if err != nil {
		l.logger.Error("container launch failed", "id", d.ID, "error", err, "duration", clk.Since(started))
		return err
	}

	if l.config.VerifyImage {
		after, err := fingerprintImage(d.ImageRoot)
		if err != nil {
			return err
		}
		if after != before {
			l.logger.Error("image root modified", "id", d.ID, "image", d.ImageRoot,
				"before", before.String(), "after", after.String(), "exit_code", code)
			return stageError(StageImage, "verify", d.ImageRoot, ErrImageModified)
		}
	}

	l.logger.Info("container exited", "id", d.ID, "exit_code", code, "duration", clk.Since(started))
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// run spawns the init child, hands it the request, and waits. It
// returns the command's exit status, or a stage error reported by the
// child or hit while spawning it.
func (l *Launcher) run(ctx context.Context, d Descriptor) (int, error) {
	handoffRead, handoffWrite, err := os.Pipe()
	if err != nil {
		return 0, stageError(StageNamespace, "create handoff pipe", "", err)
	}
	statusRead, statusWrite, err := os.Pipe()
	if err != nil {
		handoffRead.Close()
		handoffWrite.Close()
		return 0, stageError(StageNamespace, "create status pipe", "", err)
	}
	defer statusRead.Close()

	command := &exec.Cmd{
		Path:       l.config.Executable,
		Args:       []string{InitArg0},
		Stdin:      l.config.Stdin,
		Stdout:     l.config.Stdout,
		Stderr:     l.config.Stderr,
		ExtraFiles: []*os.File{handoffRead, statusWrite}, // fds 3 and 4 in the child
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: unix.CLONE_NEWNS | unix.CLONE_NEWPID,
			Pdeathsig:  syscall.SIGKILL,
		},
	}

	startErr := command.Start()
	// The child holds its own copies now. Closing ours is what lets the
	// status read see EOF once the child execs or exits.
	handoffRead.Close()
	statusWrite.Close()
	if startErr != nil {
		handoffWrite.Close()
		return 0, stageError(StageNamespace, "clone", l.config.Executable, startErr)
	}
	stopForwarding := terminateOnCancel(ctx, command.Process, l.logger)
	defer stopForwarding()

	req := request{
		Descriptor:  d,
		ScratchRoot: l.config.ScratchRoot,
		Driver:      l.config.Driver,
		WorkPolicy:  l.config.WorkPolicy,
		MountProc:   l.config.MountProc,
		DefaultPath: l.config.DefaultPath,
		LogLevel:    l.config.ChildLogLevel.String(),
	}
	// A child that dies before reading leaves the write failing with
	// EPIPE; its report or exit status explains why, so the write error
	// is only returned when nothing better is available.
	writeErr := writeRequest(handoffWrite, req)
	handoffWrite.Close()

	report, readErr := readReport(statusRead)
	waitErr := command.Wait()

	if report != nil {
		return 0, report
	}
	if writeErr != nil {
		return 0, stageError(StageNamespace, "send request", "", writeErr)
	}
	if readErr != nil {
		return 0, stageError(StageNamespace, "read status", "", readErr)
	}

	return exitCode(command, waitErr)
}

// terminateOnCancel sends process SIGTERM if ctx is canceled before the
// returned stop function is called. Stop waits for the watcher to exit.
func terminateOnCancel(ctx context.Context, process *os.Process, logger *slog.Logger) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			logger.Info("forwarding termination to container", "pid", process.Pid, "reason", context.Cause(ctx))
			if err := process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Warn("signaling container failed", "pid", process.Pid, "error", err)
			}
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// exitCode converts the child's wait status to a shell-style exit code.
func exitCode(command *exec.Cmd, waitErr error) (int, error) {
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return 0, stageError(StageNamespace, "wait", "", waitErr)
		}
	}

	status, ok := command.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return command.ProcessState.ExitCode(), nil
	}
	if status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return status.ExitStatus(), nil
}

func fingerprintImage(imageRoot string) (treehash.Hash, error) {
	hash, err := treehash.Directory(imageRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return treehash.Hash{}, stageError(StageImage, "fingerprint", imageRoot, fmt.Errorf("%w: %w", ErrImageNotFound, err))
		}
		return treehash.Hash{}, stageError(StageImage, "fingerprint", imageRoot, err)
	}
	return hash, nil
}
