// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/cmd/cell/commands"
	"github.com/bureau-foundation/cell/container"
	"github.com/bureau-foundation/cell/lib/process"
)

func main() {
	// The launcher re-executes this binary as the container's init. That
	// child must not reach the command tree.
	if container.IsInit() {
		container.Init()
	}

	process.Exit(run(), quiet)
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}

// quiet reports errors whose output the command already produced: a
// handled non-zero exit from a CLI command, or the launched command's own
// exit status.
func quiet(err error) bool {
	var cliExit *cli.ExitError
	var commandExit *container.ExitError
	return errors.As(err, &cliExit) || errors.As(err, &commandExit)
}
