// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes what launch features this host supports.
type Capabilities struct {
	// Root is true if the process runs with effective UID 0. Mount
	// namespaces and overlay mounts require CAP_SYS_ADMIN.
	Root bool

	// MountNamespaces and PIDNamespaces report kernel namespace support.
	MountNamespaces bool
	PIDNamespaces   bool

	// KernelOverlay is true if /proc/filesystems lists overlay.
	KernelOverlay bool

	// FuseOverlayfsAvailable is true if fuse-overlayfs is installed and
	// /dev/fuse exists.
	FuseOverlayfsAvailable bool

	// FuseOverlayfsPath is the path to fuse-overlayfs if installed.
	FuseOverlayfsPath string
}

// DetectCapabilities probes the host.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{
		Root:            os.Geteuid() == 0,
		MountNamespaces: exists("/proc/self/ns/mnt"),
		PIDNamespaces:   exists("/proc/self/ns/pid"),
		KernelOverlay:   filesystemSupported("overlay"),
	}

	if path, err := exec.LookPath("fuse-overlayfs"); err == nil {
		caps.FuseOverlayfsPath = path
		caps.FuseOverlayfsAvailable = exists("/dev/fuse")
	}

	return caps
}

// CanLaunch returns true if a launch with driver can succeed here.
func (c *Capabilities) CanLaunch(driver Driver) bool {
	return c.SkipReason(driver) == ""
}

// SkipReason returns a human-readable reason why launching with driver
// isn't possible, or empty string if it is.
func (c *Capabilities) SkipReason(driver Driver) string {
	if !c.Root {
		return "not running as root (mount and PID namespaces need CAP_SYS_ADMIN)"
	}
	if !c.MountNamespaces || !c.PIDNamespaces {
		return "kernel lacks mount or PID namespace support"
	}
	switch driver {
	case DriverFuse:
		if c.FuseOverlayfsPath == "" {
			return "fuse-overlayfs not installed"
		}
		if !c.FuseOverlayfsAvailable {
			return "/dev/fuse not present"
		}
	default:
		if !c.KernelOverlay {
			return "kernel overlay filesystem not available"
		}
	}
	return ""
}

// filesystemSupported reports whether /proc/filesystems lists name.
// Lines are "nodev\tname" or "\tname".
func filesystemSupported(name string) bool {
	file, err := os.Open("/proc/filesystems")
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[len(fields)-1] == name {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
