// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/container"
)

type runParams struct {
	settings
	noProc      bool
	verifyImage bool
	debug       bool
}

func runCommand() *cli.Command {
	var params runParams

	return &cli.Command{
		Name:    "run",
		Summary: "Launch a command in an isolated overlay root",
		Description: `Launch a command in a new mount and PID namespace whose root is an
overlay of the image directory.

The image is never written. The container's writable layer lives in
<scratch_root>/<id>/upper and is reused by later launches with the same
id. The command runs as PID 1 of its namespace and cell exits with its
status. When a launch stage fails before the command starts, cell exits
with that stage's code:

  121  invalid invocation        124  overlay or /proc mount
  122  namespace creation        125  root switch
  123  image missing or changed  126  command not executable
                                 127  command not found

Flags must come before <id>; everything after <image> is the command.`,
		Usage: "cell run [flags] <id> <image> [--] <command> [args...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.SetInterspersed(false)
			params.addFlags(flagSet)
			flagSet.BoolVar(&params.noProc, "no-proc", false, "do not mount /proc inside the container")
			flagSet.BoolVar(&params.verifyImage, "verify-image", false, "fingerprint the image before and after the launch")
			flagSet.BoolVar(&params.debug, "debug", false, "log at debug level (also: CELL_DEBUG=1)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Run a shell; files it writes persist under /tmp/container/box/upper",
				Command:     "cell run box /images/alpine -- /bin/sh",
			},
			{
				Description: "Resolve a relative image against paths.images from the config",
				Command:     "cell run --config /etc/cell/cell.yaml build-7 debian -- make -C /src",
			},
			{
				Description: "Use fuse-overlayfs and fail on leftover overlay state",
				Command:     "cell run --driver fuse --work-policy reject box /images/alpine -- ls /",
			},
		},
		Run: func(args []string) error {
			return params.run(args)
		},
	}
}

func (p *runParams) run(args []string) error {
	cfg, err := p.load()
	if err != nil {
		return invocationError("load configuration", err)
	}
	if p.noProc {
		cfg.Container.MountProc = false
	}
	if p.verifyImage {
		cfg.Container.VerifyImage = true
	}

	descriptor, err := descriptorArgs(cfg, args)
	if err != nil {
		return invocationError("parse arguments", err)
	}

	level := commandLevel(cfg, p.debug)
	logger := cli.NewCommandLogger(level).With(
		"command", "run",
		"id", descriptor.ID,
	)

	launchConfig, err := launcherConfig(cfg)
	if err != nil {
		return invocationError("load configuration", err)
	}
	launchConfig.Logger = logger
	launchConfig.ChildLogLevel = slog.LevelWarn
	if level <= slog.LevelDebug {
		launchConfig.ChildLogLevel = slog.LevelDebug
	}

	launcher, err := container.New(launchConfig)
	if err != nil {
		return invocationError("configure launcher", err)
	}

	// The terminal delivers SIGINT to the whole foreground group, so the
	// command sees it directly; cell only needs to survive long enough to
	// report the command's status. SIGTERM comes from a supervisor aimed
	// at cell alone and is passed on to the container.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return launcher.Launch(ctx, descriptor)
}

func invocationError(op string, err error) error {
	return &container.Error{Stage: container.StageInvocation, Op: op, Err: err}
}
