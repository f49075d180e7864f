// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import "fmt"

// Driver selects how the overlay is mounted.
type Driver string

const (
	// DriverKernel mounts the in-kernel overlay filesystem. Requires
	// CAP_SYS_ADMIN in the mount namespace.
	DriverKernel Driver = "kernel"

	// DriverFuse mounts with the fuse-overlayfs helper, for hosts whose
	// kernel lacks overlay support.
	DriverFuse Driver = "fuse"
)

// ParseDriver converts a configuration string to a Driver. The empty
// string selects [DriverKernel].
func ParseDriver(value string) (Driver, error) {
	switch Driver(value) {
	case "", DriverKernel:
		return DriverKernel, nil
	case DriverFuse:
		return DriverFuse, nil
	default:
		return "", fmt.Errorf("unknown overlay driver %q (must be %q or %q)", value, DriverKernel, DriverFuse)
	}
}

// WorkPolicy decides what happens when the overlay work directory still
// holds entries, which only happens after a run that did not unmount
// cleanly. The upper layer is never touched by either policy.
type WorkPolicy string

const (
	// WorkPolicyReset empties work/ before mounting and logs what was
	// removed.
	WorkPolicyReset WorkPolicy = "reset"

	// WorkPolicyReject fails the launch with [ErrDirtyWork].
	WorkPolicyReject WorkPolicy = "reject"
)

// ParseWorkPolicy converts a configuration string to a WorkPolicy. The
// empty string selects [WorkPolicyReset].
func ParseWorkPolicy(value string) (WorkPolicy, error) {
	switch WorkPolicy(value) {
	case "", WorkPolicyReset:
		return WorkPolicyReset, nil
	case WorkPolicyReject:
		return WorkPolicyReject, nil
	default:
		return "", fmt.Errorf("unknown work policy %q (must be %q or %q)", value, WorkPolicyReset, WorkPolicyReject)
	}
}

// DefaultPath is the search path used to resolve argv[0] inside the new
// root when the inherited environment has no PATH.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
