// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/cmd/cell/cli"
	"github.com/bureau-foundation/cell/container"
)

type capabilitiesParams struct {
	cli.JSONOutput
}

type capabilitiesReport struct {
	Root              bool              `json:"root"`
	MountNamespaces   bool              `json:"mount_namespaces"`
	PIDNamespaces     bool              `json:"pid_namespaces"`
	KernelOverlay     bool              `json:"kernel_overlay"`
	FuseOverlayfs     bool              `json:"fuse_overlayfs"`
	FuseOverlayfsPath string            `json:"fuse_overlayfs_path,omitempty"`
	Drivers           map[string]string `json:"drivers"`
}

func capabilitiesCommand() *cli.Command {
	var params capabilitiesParams

	return &cli.Command{
		Name:    "capabilities",
		Summary: "Show which launch features this host supports",
		Usage:   "cell capabilities [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("capabilities", pflag.ContinueOnError)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			report := newCapabilitiesReport(container.DetectCapabilities())
			if done, err := params.EmitJSON(os.Stdout, report); done {
				return err
			}
			return printCapabilities(os.Stdout, report)
		},
	}
}

// newCapabilitiesReport maps each driver to "ready" or the reason it
// cannot launch.
func newCapabilitiesReport(caps *container.Capabilities) capabilitiesReport {
	report := capabilitiesReport{
		Root:              caps.Root,
		MountNamespaces:   caps.MountNamespaces,
		PIDNamespaces:     caps.PIDNamespaces,
		KernelOverlay:     caps.KernelOverlay,
		FuseOverlayfs:     caps.FuseOverlayfsAvailable,
		FuseOverlayfsPath: caps.FuseOverlayfsPath,
		Drivers:           make(map[string]string),
	}
	for _, driver := range []container.Driver{container.DriverKernel, container.DriverFuse} {
		status := "ready"
		if reason := caps.SkipReason(driver); reason != "" {
			status = reason
		}
		report.Drivers[string(driver)] = status
	}
	return report
}

func printCapabilities(w io.Writer, report capabilitiesReport) error {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "root\t%s\n", yesNo(report.Root))
	fmt.Fprintf(tw, "mount namespaces\t%s\n", yesNo(report.MountNamespaces))
	fmt.Fprintf(tw, "pid namespaces\t%s\n", yesNo(report.PIDNamespaces))
	fmt.Fprintf(tw, "kernel overlay\t%s\n", yesNo(report.KernelOverlay))
	if report.FuseOverlayfsPath != "" {
		fmt.Fprintf(tw, "fuse-overlayfs\t%s (%s)\n", yesNo(report.FuseOverlayfs), report.FuseOverlayfsPath)
	} else {
		fmt.Fprintf(tw, "fuse-overlayfs\tno\n")
	}
	fmt.Fprintf(tw, "\t\n")
	fmt.Fprintf(tw, "driver kernel\t%s\n", report.Drivers[string(container.DriverKernel)])
	fmt.Fprintf(tw, "driver fuse\t%s\n", report.Drivers[string(container.DriverFuse)])
	return tw.Flush()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
