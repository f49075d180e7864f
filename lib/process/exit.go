// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// exitCoder is implemented by errors that carry their own process exit
// status: launch stage failures and a launched command's non-zero exit.
type exitCoder interface {
	ExitCode() int
}

// ExitCode returns the status a process should exit with for err: 0 for
// nil, the error's own code if any error in the chain carries one, and 1
// otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Exit terminates the process with [ExitCode] of err. Errors without
// their own code are printed as "error: err" first. A command's own
// non-zero exit is not printed; the command already reported it.
func Exit(err error, quiet func(error) bool) {
	if err == nil {
		os.Exit(0)
	}
	if quiet == nil || !quiet(err) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(ExitCode(err))
}
