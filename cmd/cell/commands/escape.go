// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/container"
)

type escapeTestParams struct {
	category string
}

func escapeTestCommand() *cli.Command {
	var params escapeTestParams

	return &cli.Command{
		Name:    "escape-test",
		Summary: "Probe the current root for paths back to the host",
		Description: `Run the escape detection battery against the current process's root.
Meant to be run inside a container (copy the cell binary into the image):
each test tries to reach the previous root or the host's mount namespace.

Exits 1 if any escape vector is found. Run on the host itself, several
tests fail by construction.`,
		Usage: "cell escape-test [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("escape-test", pflag.ContinueOnError)
			flagSet.StringVar(&params.category, "category", "", "run only tests in this category (filesystem, process)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Verify isolation from inside a container",
				Command:     "cell run box /images/with-cell -- /cell escape-test",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			runner := container.NewEscapeTestRunner()
			if params.category != "" {
				runner.RunCategory(context.Background(), params.category)
			} else {
				runner.RunAll(context.Background())
			}
			if passed, failed := runner.Summary(); passed+failed == 0 {
				return fmt.Errorf("no escape tests in category %q", params.category)
			}

			runner.PrintResults(os.Stdout)
			if runner.HasFailures() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
