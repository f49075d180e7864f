// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"
)

// probeArg0 marks an invocation of the test binary as the command
// running inside a launched container.
const probeArg0 = "cell-probe"

// TestMain lets the test binary play both roles a launch needs: the
// init child that [Launcher.Launch] re-executes, and the probe command
// that launch tests copy into their images.
func TestMain(m *testing.M) {
	if IsInit() {
		Init()
	}
	if len(os.Args) > 1 && os.Args[1] == probeArg0 {
		os.Exit(runProbe(os.Args[2:]))
	}
	os.Exit(m.Run())
}

// runProbe executes one probe action inside a container and returns the
// exit status.
func runProbe(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "probe: no action")
		return 2
	}

	switch args[0] {
	case "write":
		if len(args) != 3 {
			return 2
		}
		if err := os.WriteFile(args[1], []byte(args[2]), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "probe: %v\n", err)
			return 1
		}
		return 0

	case "cat":
		if len(args) != 2 {
			return 2
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe: %v\n", err)
			return 1
		}
		os.Stdout.Write(data)
		return 0

	case "pid":
		fmt.Print(os.Getpid())
		return 0

	case "exit":
		if len(args) != 2 {
			return 2
		}
		code, err := strconv.Atoi(args[1])
		if err != nil {
			return 2
		}
		return code

	case "wait-term":
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGTERM)
		fmt.Println("ready")
		select {
		case <-signals:
			return 42
		case <-time.After(30 * time.Second):
			return 3
		}

	case "escape":
		runner := NewEscapeTestRunner()
		runner.RunAll(context.Background())
		runner.PrintResults(os.Stdout)
		if runner.HasFailures() {
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "probe: unknown action %q\n", args[0])
		return 2
	}
}
