// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// ValidationResult holds the result of a validation check.
type ValidationResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"` // True if this is a warning, not an error.
}

// Validator performs pre-flight checks for a launch without mounting
// anything or creating any directory.
type Validator struct {
	results []ValidationResult
	errors  int
	caps    *Capabilities
	statfs  func(string, *unix.Statfs_t) error
}

// NewValidator creates a validator that judges host support against
// caps. A nil caps probes the host.
func NewValidator(caps *Capabilities) *Validator {
	if caps == nil {
		caps = DetectCapabilities()
	}
	return &Validator{
		results: make([]ValidationResult, 0),
		caps:    caps,
		statfs:  unix.Statfs,
	}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message, Warning: true})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: false, Message: message})
	v.errors++
}

// ValidateAll runs every check for launching d under config.
func (v *Validator) ValidateAll(config Config, d Descriptor) {
	v.ValidateHost(config.Driver)
	v.ValidateScratchRoot(config.ScratchRoot)
	v.ValidateScratchFilesystem(config.ScratchRoot, config.ScratchTmpfs)
	v.ValidateDescriptor(d)
	v.ValidateImage(d.ImageRoot)
	v.ValidateScratchState(config.ScratchRoot, d.ID, config.WorkPolicy)
}

// ValidateHost checks privileges, namespaces, and the overlay driver.
func (v *Validator) ValidateHost(driver Driver) {
	if v.caps.Root {
		v.pass("privileges", "running as root")
	} else {
		v.fail("privileges", "not running as root (mount and PID namespaces need CAP_SYS_ADMIN)")
	}

	if v.caps.MountNamespaces && v.caps.PIDNamespaces {
		v.pass("namespaces", "mount and PID namespaces supported")
	} else {
		v.fail("namespaces", "kernel lacks mount or PID namespace support")
	}

	switch driver {
	case DriverFuse:
		switch {
		case v.caps.FuseOverlayfsPath == "":
			v.fail("driver", "fuse-overlayfs not found (install with: sudo apt install fuse-overlayfs)")
		case !v.caps.FuseOverlayfsAvailable:
			v.fail("driver", fmt.Sprintf("fuse-overlayfs at %s but /dev/fuse is missing", v.caps.FuseOverlayfsPath))
		default:
			v.pass("driver", fmt.Sprintf("fuse-overlayfs: %s", v.caps.FuseOverlayfsPath))
		}
	case DriverKernel, "":
		if v.caps.KernelOverlay {
			v.pass("driver", "kernel overlay filesystem available")
		} else if v.caps.FuseOverlayfsAvailable {
			v.fail("driver", "kernel overlay filesystem not available (fuse-overlayfs is installed; set container.driver: fuse)")
		} else {
			v.fail("driver", "kernel overlay filesystem not available")
		}
	default:
		v.fail("driver", fmt.Sprintf("unknown overlay driver %q", driver))
	}
}

// ValidateScratchRoot checks that the scratch root exists as a directory
// or can be created.
func (v *Validator) ValidateScratchRoot(scratchRoot string) {
	if scratchRoot == "" {
		scratchRoot = DefaultScratchRoot
	}
	if !filepath.IsAbs(scratchRoot) {
		v.fail("scratch_root", fmt.Sprintf("not an absolute path: %s", scratchRoot))
		return
	}
	if err := validateOverlayPath(scratchRoot, "scratch root"); err != nil {
		v.fail("scratch_root", err.Error())
		return
	}

	info, err := os.Stat(scratchRoot)
	if err == nil {
		if !info.IsDir() {
			v.fail("scratch_root", fmt.Sprintf("not a directory: %s", scratchRoot))
			return
		}
		if err := checkPrivateDir(scratchRoot); err != nil {
			v.fail("scratch_root", err.Error())
			return
		}
		v.pass("scratch_root", fmt.Sprintf("exists: %s", scratchRoot))
		return
	}
	if !os.IsNotExist(err) {
		v.fail("scratch_root", fmt.Sprintf("cannot access: %v", err))
		return
	}

	// Find the nearest existing ancestor that MkdirAll would build on.
	parent := filepath.Dir(scratchRoot)
	for parent != "/" {
		if _, err := os.Stat(parent); err == nil {
			break
		}
		parent = filepath.Dir(parent)
	}
	v.pass("scratch_root", fmt.Sprintf("will be created under %s: %s", parent, scratchRoot))
}

// ValidateScratchFilesystem warns when upper and work directories would
// land on overlayfs, which the kernel refuses as an overlay upper layer.
// A scratch tmpfs, or a scratch root that is already a mount point of
// another type, avoids that.
func (v *Validator) ValidateScratchFilesystem(scratchRoot string, tmpfs bool) {
	if scratchRoot == "" {
		scratchRoot = DefaultScratchRoot
	}
	if !filepath.IsAbs(scratchRoot) {
		return
	}

	overlay, err := onOverlayFilesystem(scratchRoot, v.statfs)
	switch {
	case err != nil:
		v.warn("scratch_filesystem", fmt.Sprintf("cannot determine filesystem: %v", err))
	case !overlay:
		v.pass("scratch_filesystem", fmt.Sprintf("%s is not on overlayfs", scratchRoot))
	case tmpfs:
		v.pass("scratch_filesystem", fmt.Sprintf("%s is on overlayfs; a tmpfs will be mounted over it", scratchRoot))
	default:
		v.warn("scratch_filesystem", fmt.Sprintf("%s is on overlayfs, which cannot hold an overlay upper layer (set paths.scratch_tmpfs or pass --scratch-tmpfs)", scratchRoot))
	}
}

// ValidateDescriptor checks the descriptor's static invariants.
func (v *Validator) ValidateDescriptor(d Descriptor) {
	if err := d.Validate(); err != nil {
		v.fail("descriptor", err.Error())
		return
	}
	v.pass("descriptor", fmt.Sprintf("id %s, command %s", d.ID, d.Argv[0]))
}

// ValidateImage checks that the image root exists and is a directory.
func (v *Validator) ValidateImage(imageRoot string) {
	if imageRoot == "" {
		v.fail("image", "image root is required")
		return
	}

	info, err := os.Stat(imageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			v.fail("image", fmt.Sprintf("does not exist: %s", imageRoot))
		} else {
			v.fail("image", fmt.Sprintf("cannot access: %v", err))
		}
		return
	}
	if !info.IsDir() {
		v.fail("image", fmt.Sprintf("not a directory: %s", imageRoot))
		return
	}

	// A root without /bin or /usr/bin probably is not an image.
	if !exists(filepath.Join(imageRoot, "bin")) && !exists(filepath.Join(imageRoot, "usr", "bin")) {
		v.warn("image", fmt.Sprintf("%s has neither bin/ nor usr/bin/", imageRoot))
		return
	}
	v.pass("image", fmt.Sprintf("exists: %s", imageRoot))
}

// ValidateScratchState checks leftovers in an existing scratch directory
// for id: a merged directory still mounted, or overlay work state.
func (v *Validator) ValidateScratchState(scratchRoot, id string, policy WorkPolicy) {
	layout, err := NewLayout(scratchRoot, id)
	if err != nil {
		// Already reported by ValidateDescriptor or ValidateScratchRoot.
		return
	}

	if _, err := os.Stat(layout.Dir); errors.Is(err, os.ErrNotExist) {
		v.pass("scratch_state", fmt.Sprintf("fresh: %s", layout.Dir))
		return
	}

	mounted, err := mountinfo.Mounted(layout.Merged)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		v.fail("scratch_state", fmt.Sprintf("cannot check %s: %v", layout.Merged, err))
		return
	case mounted:
		v.fail("scratch_state", fmt.Sprintf("%s is still mounted (unmount it or choose another id)", layout.Merged))
		return
	}

	leftovers, err := workLeftovers(layout.Work)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		v.fail("scratch_state", fmt.Sprintf("cannot inspect %s: %v", layout.Work, err))
		return
	}
	if len(leftovers) > 0 {
		message := fmt.Sprintf("%s holds %s", layout.Work, strings.Join(leftovers, ", "))
		if policy == WorkPolicyReject {
			v.fail("scratch_state", message+" (work_policy is reject)")
		} else {
			v.warn("scratch_state", message+" (will be reset)")
		}
		return
	}

	v.pass("scratch_state", fmt.Sprintf("reusable: %s", layout.Dir))
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		var prefix string
		if r.Passed {
			if r.Warning {
				prefix = "⚠"
			} else {
				prefix = "✓"
			}
		} else {
			prefix = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to launch")
	}
}
