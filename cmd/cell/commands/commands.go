// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the cell command tree.
package commands

import (
	"github.com/bureau-foundation/cell/cmd/cell/cli"
)

// Root builds and returns the complete cell command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "cell",
		Description: `cell: run a command inside an isolated overlay root.

Each launch gets a private mount namespace and PID namespace. The image
directory is the read-only lower layer of an overlay; writes land in
<scratch_root>/<id>/upper and persist across launches with the same id.`,
		Subcommands: []*cli.Command{
			runCommand(),
			validateCommand(),
			fingerprintCommand(),
			escapeTestCommand(),
			capabilitiesCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Run a shell on an unpacked image",
				Command:     "cell run box /images/alpine -- /bin/sh",
			},
			{
				Description: "Check the host and scratch state before launching",
				Command:     "cell validate box /images/alpine",
			},
		},
	}
}
