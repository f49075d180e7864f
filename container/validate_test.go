// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func capableHost() *Capabilities {
	return &Capabilities{
		Root:            true,
		MountNamespaces: true,
		PIDNamespaces:   true,
		KernelOverlay:   true,
	}
}

func findResult(t *testing.T, v *Validator, name string) ValidationResult {
	t.Helper()
	for _, result := range v.Results() {
		if result.Name == name {
			return result
		}
	}
	t.Fatalf("no %q result in %+v", name, v.Results())
	return ValidationResult{}
}

func testImage(t *testing.T) string {
	t.Helper()
	image := t.TempDir()
	if err := os.Mkdir(filepath.Join(image, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	return image
}

func TestValidatorReady(t *testing.T) {
	validator := NewValidator(capableHost())
	validator.ValidateAll(
		Config{ScratchRoot: filepath.Join(t.TempDir(), "scratch")},
		Descriptor{ID: "box", ImageRoot: testImage(t), Argv: []string{"/bin/sh"}},
	)

	if validator.HasErrors() {
		var buffer bytes.Buffer
		validator.PrintResults(&buffer)
		t.Fatalf("unexpected failures:\n%s", buffer.String())
	}

	var buffer bytes.Buffer
	validator.PrintResults(&buffer)
	if !strings.Contains(buffer.String(), "Ready to launch") {
		t.Errorf("PrintResults missing ready line:\n%s", buffer.String())
	}
}

func TestValidatorHostFailures(t *testing.T) {
	validator := NewValidator(&Capabilities{})
	validator.ValidateHost(DriverKernel)

	if !validator.HasErrors() {
		t.Fatal("expected failures on an incapable host")
	}
	for _, name := range []string{"privileges", "namespaces", "driver"} {
		if findResult(t, validator, name).Passed {
			t.Errorf("%s passed on an incapable host", name)
		}
	}
}

func TestValidatorFuseDriver(t *testing.T) {
	caps := capableHost()
	caps.FuseOverlayfsPath = "/usr/bin/fuse-overlayfs"

	validator := NewValidator(caps)
	validator.ValidateHost(DriverFuse)
	if result := findResult(t, validator, "driver"); result.Passed {
		t.Errorf("driver passed without /dev/fuse: %s", result.Message)
	}

	caps.FuseOverlayfsAvailable = true
	validator = NewValidator(caps)
	validator.ValidateHost(DriverFuse)
	if result := findResult(t, validator, "driver"); !result.Passed {
		t.Errorf("driver failed with fuse-overlayfs available: %s", result.Message)
	}
}

func TestValidatorMissingImage(t *testing.T) {
	validator := NewValidator(capableHost())
	validator.ValidateImage(filepath.Join(t.TempDir(), "missing"))

	result := findResult(t, validator, "image")
	if result.Passed || !strings.Contains(result.Message, "does not exist") {
		t.Errorf("image result = %+v, want a does-not-exist failure", result)
	}
}

func TestValidatorImageWithoutBinaries(t *testing.T) {
	validator := NewValidator(capableHost())
	validator.ValidateImage(t.TempDir())

	result := findResult(t, validator, "image")
	if !result.Passed || !result.Warning {
		t.Errorf("image result = %+v, want a warning", result)
	}
}

func TestValidatorScratchStateFollowsWorkPolicy(t *testing.T) {
	scratchRoot := t.TempDir()
	layout, err := NewLayout(scratchRoot, "box")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(layout.Work, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(layout.Work, "stray"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	reset := NewValidator(capableHost())
	reset.ValidateScratchState(scratchRoot, "box", WorkPolicyReset)
	if result := findResult(t, reset, "scratch_state"); !result.Passed || !result.Warning {
		t.Errorf("reset policy result = %+v, want a warning", result)
	}

	reject := NewValidator(capableHost())
	reject.ValidateScratchState(scratchRoot, "box", WorkPolicyReject)
	if result := findResult(t, reject, "scratch_state"); result.Passed {
		t.Errorf("reject policy result = %+v, want a failure", result)
	}
}

func TestValidatorCreatesNothing(t *testing.T) {
	scratchRoot := filepath.Join(t.TempDir(), "scratch")
	validator := NewValidator(capableHost())
	validator.ValidateAll(
		Config{ScratchRoot: scratchRoot},
		Descriptor{ID: "box", ImageRoot: testImage(t), Argv: []string{"/bin/sh"}},
	)
	if _, err := os.Stat(scratchRoot); !os.IsNotExist(err) {
		t.Errorf("validation created the scratch root (stat: %v)", err)
	}
}

func TestValidatorScratchFilesystem(t *testing.T) {
	onOverlay := func(path string, buf *unix.Statfs_t) error {
		buf.Type = unix.OVERLAYFS_SUPER_MAGIC
		return nil
	}

	validator := NewValidator(capableHost())
	validator.statfs = onOverlay
	validator.ValidateScratchFilesystem("/tmp/container", false)
	result := findResult(t, validator, "scratch_filesystem")
	if !result.Warning || !strings.Contains(result.Message, "scratch_tmpfs") {
		t.Errorf("overlay scratch root result = %+v, want a warning naming scratch_tmpfs", result)
	}

	validator = NewValidator(capableHost())
	validator.statfs = onOverlay
	validator.ValidateScratchFilesystem("/tmp/container", true)
	if result := findResult(t, validator, "scratch_filesystem"); !result.Passed || result.Warning {
		t.Errorf("overlay scratch root with tmpfs result = %+v, want a pass", result)
	}

	validator = NewValidator(capableHost())
	validator.statfs = func(path string, buf *unix.Statfs_t) error {
		buf.Type = unix.EXT4_SUPER_MAGIC
		return nil
	}
	validator.ValidateScratchFilesystem("/tmp/container", false)
	if result := findResult(t, validator, "scratch_filesystem"); !result.Passed || result.Warning {
		t.Errorf("ext4 scratch root result = %+v, want a pass", result)
	}
}

func TestValidatorRejectsWritableScratchRoot(t *testing.T) {
	scratchRoot := filepath.Join(t.TempDir(), "scratch")
	if err := os.Mkdir(scratchRoot, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(scratchRoot, 0777); err != nil {
		t.Fatal(err)
	}

	validator := NewValidator(capableHost())
	validator.ValidateScratchRoot(scratchRoot)
	if result := findResult(t, validator, "scratch_root"); result.Passed {
		t.Errorf("world-writable scratch root passed: %+v", result)
	}
}
