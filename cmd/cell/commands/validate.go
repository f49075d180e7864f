// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/container"
)

type validateParams struct {
	settings
	cli.JSONOutput
}

func validateCommand() *cli.Command {
	var params validateParams

	return &cli.Command{
		Name:    "validate",
		Summary: "Check that a launch would succeed, without launching",
		Description: `Run the pre-flight checks for a launch: host privileges and namespace
support, the overlay driver, the scratch root, the descriptor, the image
directory, and leftover state in <scratch_root>/<id>.

Nothing is mounted or created. Exits 1 if any check fails. The command
defaults to /bin/sh when none is given.`,
		Usage: "cell validate [flags] <id> <image> [-- <command> [args...]]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
			flagSet.SetInterspersed(false)
			params.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Check a launch with the production configuration",
				Command:     "cell validate --config /etc/cell/cell.yaml box /images/alpine",
			},
		},
		Run: func(args []string) error {
			return params.run(args)
		},
	}
}

func (p *validateParams) run(args []string) error {
	cfg, err := p.load()
	if err != nil {
		return err
	}
	descriptor, err := descriptorArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(descriptor.Argv) == 0 {
		descriptor.Argv = []string{"/bin/sh"}
	}
	launchConfig, err := launcherConfig(cfg)
	if err != nil {
		return err
	}

	validator := container.NewValidator(nil)
	validator.ValidateAll(launchConfig, descriptor)

	if done, err := p.EmitJSON(os.Stdout, validator.Results()); done {
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintf(os.Stdout, "Validating launch of %s (image %s)\n\n", descriptor.ID, descriptor.ImageRoot)
		validator.PrintResults(os.Stdout)
	}

	if validator.HasErrors() {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
