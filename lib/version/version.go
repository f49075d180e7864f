// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/bureau-foundation/cell/lib/treehash"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, Commit(), dirty, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Commit returns the git commit SHA. When ldflags did not set one, the
// VCS revision the Go toolchain stamped into the binary is used.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitCommit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return GitCommit
}

// SelfDigest returns the BLAKE3 file digest and path of the running
// binary. The init child re-executes this same file, so the digest
// identifies exactly what runs on both sides of a launch.
func SelfDigest() (digest treehash.Hash, binaryPath string, err error) {
	executable, err := os.Executable()
	if err != nil {
		return treehash.Hash{}, "", fmt.Errorf("resolving own executable path: %w", err)
	}
	digest, err = treehash.File(executable)
	if err != nil {
		return treehash.Hash{}, "", fmt.Errorf("hashing own binary at %s: %w", executable, err)
	}
	return digest, executable, nil
}
