// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/lib/treehash"
)

type fingerprintParams struct {
	cli.JSONOutput
}

type fingerprintResult struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

func fingerprintCommand() *cli.Command {
	var params fingerprintParams

	return &cli.Command{
		Name:    "fingerprint",
		Summary: "Print the tree hash of one or more directories",
		Description: `Compute the BLAKE3 tree hash that --verify-image compares before and
after a launch. The hash covers every entry's relative path, type,
permission bits, file contents, and symlink targets. Timestamps and
ownership are not included.

Use it to confirm that an image directory is unchanged after a series of
launches, or that two unpacked copies of an image are identical.`,
		Usage: "cell fingerprint [flags] <dir> [dir...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fingerprint", pflag.ContinueOnError)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Fingerprint an image",
				Command:     "cell fingerprint /images/alpine",
			},
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("expected at least one directory")
			}
			results, err := fingerprintDirectories(args)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(os.Stdout, results); done {
				return err
			}
			for _, result := range results {
				fmt.Fprintf(os.Stdout, "%s  %s\n", result.Hash, result.Path)
			}
			return nil
		},
	}
}

func fingerprintDirectories(paths []string) ([]fingerprintResult, error) {
	results := make([]fingerprintResult, 0, len(paths))
	for _, path := range paths {
		absolute, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		hash, err := treehash.Directory(absolute)
		if err != nil {
			return nil, err
		}
		results = append(results, fingerprintResult{Path: absolute, Hash: hash.String()})
	}
	return results, nil
}
