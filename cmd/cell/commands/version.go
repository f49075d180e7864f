// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/lib/version"
)

type versionParams struct {
	cli.JSONOutput
}

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Binary  string `json:"binary,omitempty"`
	Digest  string `json:"digest,omitempty"`
}

func versionCommand() *cli.Command {
	var params versionParams

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Description: `Print the version, the commit, and the BLAKE3 digest of the running
binary. The digest identifies the file that is re-executed as each
container's init process.`,
		Usage: "cell version [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			info := versionInfo{
				Version: version.Short(),
				Commit:  version.Commit(),
			}
			digest, binary, err := version.SelfDigest()
			if err == nil {
				info.Binary = binary
				info.Digest = digest.String()
			}

			if done, err := params.EmitJSON(os.Stdout, info); done {
				return err
			}
			fmt.Fprintln(os.Stdout, version.Full())
			if info.Digest != "" {
				fmt.Fprintf(os.Stdout, "binary: %s\ndigest: %s\n", info.Binary, info.Digest)
			}
			return nil
		},
	}
}
