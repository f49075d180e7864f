// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/cell/lib/testutil"
	"golang.org/x/sys/unix"
)

// testCapabilities caches capability detection across tests.
var testCapabilities *Capabilities

func getTestCapabilities(t *testing.T) *Capabilities {
	if testCapabilities == nil {
		testCapabilities = DetectCapabilities()
		t.Logf("Launch capabilities: root=%v mntns=%v pidns=%v overlay=%v fuse=%v",
			testCapabilities.Root,
			testCapabilities.MountNamespaces,
			testCapabilities.PIDNamespaces,
			testCapabilities.KernelOverlay,
			testCapabilities.FuseOverlayfsAvailable)
	}
	return testCapabilities
}

func skipIfCannotLaunch(t *testing.T) {
	t.Helper()
	if reason := getTestCapabilities(t).SkipReason(DriverKernel); reason != "" {
		t.Skipf("Skipping launch test: %s", reason)
	}
}

// probeImage builds an image holding only a copy of the test binary at
// /probe, plus the mount points the probe needs.
func probeImage(t *testing.T) string {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("locating test binary: %v", err)
	}
	testutil.RequireStaticBinary(t, self)

	image := t.TempDir()
	for _, dir := range []string{"proc", "tmp", "data"} {
		if err := os.Mkdir(filepath.Join(image, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}

	source, err := os.Open(self)
	if err != nil {
		t.Fatal(err)
	}
	defer source.Close()
	target, err := os.OpenFile(filepath.Join(image, "probe"), os.O_CREATE|os.O_WRONLY, 0755)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(target, source); err != nil {
		target.Close()
		t.Fatal(err)
	}
	if err := target.Close(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(image, "data", "not-executable"), []byte("plain"), 0644); err != nil {
		t.Fatal(err)
	}
	return image
}

type launchResult struct {
	err    error
	stdout string
	stderr string
}

func launch(t *testing.T, config Config, d Descriptor) launchResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	config.Stdin = strings.NewReader("")
	config.Stdout = &stdout
	config.Stderr = &stderr
	if config.Logger == nil {
		config.Logger = testLogger()
	}

	launcher, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = launcher.Launch(context.Background(), d)
	return launchResult{err: err, stdout: stdout.String(), stderr: stderr.String()}
}

func probe(args ...string) []string {
	return append([]string{"/probe", probeArg0}, args...)
}

func TestLaunchWritesLandInUpper(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)
	scratchRoot := testutil.ScratchDir(t)
	id := testutil.UniqueID("upper")

	result := launch(t, Config{ScratchRoot: scratchRoot}, Descriptor{
		ID: id, ImageRoot: image, Argv: probe("write", "/tmp/hello", "from the container"),
	})
	if result.err != nil {
		t.Fatalf("Launch: %v\nstderr: %s", result.err, result.stderr)
	}

	if _, err := os.Stat(filepath.Join(image, "tmp", "hello")); !os.IsNotExist(err) {
		t.Errorf("write reached the image root (stat: %v)", err)
	}
	data, err := os.ReadFile(filepath.Join(scratchRoot, id, "upper", "tmp", "hello"))
	if err != nil {
		t.Fatalf("reading upper layer: %v", err)
	}
	if string(data) != "from the container" {
		t.Errorf("upper content = %q", data)
	}
}

func TestLaunchPersistsAcrossRuns(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)
	scratchRoot := testutil.ScratchDir(t)
	id := testutil.UniqueID("persist")
	config := Config{ScratchRoot: scratchRoot}

	first := launch(t, config, Descriptor{ID: id, ImageRoot: image, Argv: probe("write", "/data/state", "v1")})
	if first.err != nil {
		t.Fatalf("first Launch: %v\nstderr: %s", first.err, first.stderr)
	}

	second := launch(t, config, Descriptor{ID: id, ImageRoot: image, Argv: probe("cat", "/data/state")})
	if second.err != nil {
		t.Fatalf("second Launch: %v\nstderr: %s", second.err, second.stderr)
	}
	if second.stdout != "v1" {
		t.Errorf("second run saw %q, want the first run's write", second.stdout)
	}

	other := launch(t, config, Descriptor{ID: testutil.UniqueID("persist-other"), ImageRoot: image, Argv: probe("cat", "/data/state")})
	if code, ok := IsExitError(other.err); !ok || code != 1 {
		t.Errorf("different id saw another container's write: err=%v stdout=%q", other.err, other.stdout)
	}
}

func TestLaunchIsolation(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)

	result := launch(t, Config{ScratchRoot: testutil.ScratchDir(t), MountProc: true}, Descriptor{
		ID: testutil.UniqueID("escape"), ImageRoot: image, Argv: probe("escape"),
	})
	if result.err != nil {
		t.Fatalf("escape battery failed: %v\n%s\nstderr: %s", result.err, result.stdout, result.stderr)
	}
	if !strings.Contains(result.stdout, "root isolation verified") {
		t.Errorf("unexpected battery output:\n%s", result.stdout)
	}
}

func TestLaunchCommandIsPIDOne(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)

	result := launch(t, Config{ScratchRoot: testutil.ScratchDir(t)}, Descriptor{
		ID: testutil.UniqueID("pid"), ImageRoot: image, Argv: probe("pid"),
	})
	if result.err != nil {
		t.Fatalf("Launch: %v\nstderr: %s", result.err, result.stderr)
	}
	if result.stdout != "1" {
		t.Errorf("command pid = %q, want 1", result.stdout)
	}
}

func TestLaunchPropagatesExitStatus(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)

	result := launch(t, Config{ScratchRoot: testutil.ScratchDir(t)}, Descriptor{
		ID: testutil.UniqueID("status"), ImageRoot: image, Argv: probe("exit", "7"),
	})
	code, ok := IsExitError(result.err)
	if !ok || code != 7 {
		t.Errorf("Launch = %v, want exit status 7", result.err)
	}
	if _, isStage := StageOf(result.err); isStage {
		t.Errorf("command exit reported as a stage failure: %v", result.err)
	}
}

func TestLaunchMissingImage(t *testing.T) {
	skipIfCannotLaunch(t)
	scratchRoot := testutil.ScratchDir(t)
	id := testutil.UniqueID("noimage")

	result := launch(t, Config{ScratchRoot: scratchRoot}, Descriptor{
		ID: id, ImageRoot: filepath.Join(t.TempDir(), "missing"), Argv: []string{"/bin/true"},
	})

	var launchErr *Error
	if !errors.As(result.err, &launchErr) {
		t.Fatalf("Launch = %v, want *Error", result.err)
	}
	if launchErr.Stage != StageImage || launchErr.ExitCode() != ExitCodeImage {
		t.Errorf("Launch = %v (code %d), want stage %q code %d", launchErr, launchErr.ExitCode(), StageImage, ExitCodeImage)
	}
	if !errors.Is(result.err, ErrImageNotFound) {
		t.Errorf("Launch = %v, want ErrImageNotFound", result.err)
	}
	if _, err := os.Stat(filepath.Join(scratchRoot, id)); !os.IsNotExist(err) {
		t.Errorf("scratch directory created for a missing image (stat: %v)", err)
	}
}

func TestLaunchExecFailures(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)

	tests := []struct {
		name string
		argv []string
		code int
	}{
		{"not found", []string{"/no/such/command"}, ExitCodeNotFound},
		{"not on path", []string{"no-such-command"}, ExitCodeNotFound},
		{"not executable", []string{"/data/not-executable"}, ExitCodeNotExecutable},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := launch(t, Config{ScratchRoot: testutil.ScratchDir(t)}, Descriptor{
				ID: testutil.UniqueID("exec"), ImageRoot: image, Argv: test.argv,
			})
			var launchErr *Error
			if !errors.As(result.err, &launchErr) {
				t.Fatalf("Launch = %v, want *Error", result.err)
			}
			if launchErr.Stage != StageExec || launchErr.ExitCode() != test.code {
				t.Errorf("Launch = %v (code %d), want stage %q code %d", launchErr, launchErr.ExitCode(), StageExec, test.code)
			}
		})
	}
}

func TestLaunchHostBinaryNotVisible(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)

	// /probe exists only in the image; the host's /probe path does not.
	// The reverse, a host path absent from the image, must not resolve.
	self, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	result := launch(t, Config{ScratchRoot: testutil.ScratchDir(t)}, Descriptor{
		ID: testutil.UniqueID("hostpath"), ImageRoot: image, Argv: []string{self},
	})
	var launchErr *Error
	if !errors.As(result.err, &launchErr) || launchErr.ExitCode() != ExitCodeNotFound {
		t.Errorf("host binary %s resolved inside the container: %v", self, result.err)
	}
}

func TestLaunchRefusesStaleMount(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)
	scratchRoot := testutil.ScratchDir(t)
	id := testutil.UniqueID("stale")

	layout, err := NewLayout(scratchRoot, id)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(layout.Merged, 0700); err != nil {
		t.Fatal(err)
	}
	if err := unix.Mount("tmpfs", layout.Merged, "tmpfs", 0, ""); err != nil {
		t.Skipf("cannot mount tmpfs to simulate a stale overlay: %v", err)
	}
	t.Cleanup(func() { unix.Unmount(layout.Merged, unix.MNT_DETACH) })

	result := launch(t, Config{ScratchRoot: scratchRoot}, Descriptor{ID: id, ImageRoot: image, Argv: probe("pid")})
	if !errors.Is(result.err, ErrStaleMount) {
		t.Errorf("Launch = %v, want ErrStaleMount", result.err)
	}
	if stage, _ := StageOf(result.err); stage != StageMount {
		t.Errorf("stage = %q, want %q", stage, StageMount)
	}
}

func TestLaunchVerifyImage(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)

	result := launch(t, Config{ScratchRoot: testutil.ScratchDir(t), VerifyImage: true}, Descriptor{
		ID: testutil.UniqueID("verify"), ImageRoot: image, Argv: probe("write", "/data/new", "x"),
	})
	if result.err != nil {
		t.Fatalf("Launch with verification: %v\nstderr: %s", result.err, result.stderr)
	}
}

func TestLaunchInvalidDescriptor(t *testing.T) {
	// Rejected before any privileged operation, so no capabilities are
	// needed.
	launcher, err := New(Config{ScratchRoot: t.TempDir(), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	err = launcher.Launch(context.Background(), Descriptor{ID: "../x", ImageRoot: "/img", Argv: []string{"/bin/true"}})
	if stage, _ := StageOf(err); stage != StageInvocation {
		t.Errorf("Launch = %v, want stage %q", err, StageInvocation)
	}
}

func TestLaunchCanceledContext(t *testing.T) {
	launcher, err := New(Config{ScratchRoot: t.TempDir(), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = launcher.Launch(ctx, Descriptor{ID: "box", ImageRoot: "/img", Argv: []string{"/bin/true"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Launch = %v, want context.Canceled", err)
	}
}

// startWaitTerm runs the test binary as a probe that exits 42 on SIGTERM,
// and returns once it is ready for the signal.
func startWaitTerm(t *testing.T) *exec.Cmd {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	command := exec.Command(self, probeArg0, "wait-term")
	stdout, err := command.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := command.Start(); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil || line != "ready\n" {
		command.Process.Kill()
		command.Wait()
		t.Fatalf("probe did not become ready: %q, %v", line, err)
	}
	return command
}

func TestTerminateOnCancel(t *testing.T) {
	command := startWaitTerm(t)
	ctx, cancel := context.WithCancel(context.Background())
	stop := terminateOnCancel(ctx, command.Process, testLogger())

	cancel()
	command.Wait()
	stop()

	if code := command.ProcessState.ExitCode(); code != 42 {
		t.Errorf("child exit code = %d, want 42 (exited on SIGTERM)", code)
	}
}

func TestTerminateOnCancelAfterStop(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	command := exec.Command(self, probeArg0, "exit", "5")
	if err := command.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := terminateOnCancel(ctx, command.Process, testLogger())
	command.Wait()
	stop()
	cancel()

	if code := command.ProcessState.ExitCode(); code != 5 {
		t.Errorf("child exit code = %d, want its own status 5", code)
	}
}

func TestLaunchScratchTmpfsMissingImageMountsNothing(t *testing.T) {
	scratchRoot := filepath.Join(t.TempDir(), "scratch")
	launcher, err := New(Config{ScratchRoot: scratchRoot, ScratchTmpfs: true, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	err = launcher.Launch(context.Background(), Descriptor{
		ID: "box", ImageRoot: filepath.Join(t.TempDir(), "missing"), Argv: []string{"/bin/true"},
	})
	if !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Launch = %v, want ErrImageNotFound", err)
	}
	if _, statErr := os.Stat(scratchRoot); !os.IsNotExist(statErr) {
		t.Errorf("scratch root prepared for a missing image (stat: %v)", statErr)
	}
}

func TestLaunchWithScratchTmpfs(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)
	scratchRoot := filepath.Join(testutil.ScratchDir(t), "scratch")
	t.Cleanup(func() { unix.Unmount(scratchRoot, unix.MNT_DETACH) })
	config := Config{ScratchRoot: scratchRoot, ScratchTmpfs: true}
	id := testutil.UniqueID("tmpfs")

	first := launch(t, config, Descriptor{ID: id, ImageRoot: image, Argv: probe("write", "/data/state", "on tmpfs")})
	if first.err != nil {
		t.Fatalf("Launch: %v\nstderr: %s", first.err, first.stderr)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(scratchRoot, &stat); err != nil {
		t.Fatal(err)
	}
	if int64(stat.Type) != unix.TMPFS_MAGIC {
		t.Errorf("scratch root filesystem type = %#x, want tmpfs", stat.Type)
	}

	// The tmpfs lives in the launcher's namespace, so the upper layer
	// survives into the next launch.
	second := launch(t, config, Descriptor{ID: id, ImageRoot: image, Argv: probe("cat", "/data/state")})
	if second.err != nil {
		t.Fatalf("second Launch: %v\nstderr: %s", second.err, second.stderr)
	}
	if second.stdout != "on tmpfs" {
		t.Errorf("second run saw %q, want the first run's write", second.stdout)
	}
}

func TestLaunchRefusesSymlinkedUpper(t *testing.T) {
	skipIfCannotLaunch(t)
	image := probeImage(t)
	scratchRoot := testutil.ScratchDir(t)
	hostDir := t.TempDir()
	id := testutil.UniqueID("planted")
	if err := os.MkdirAll(filepath.Join(scratchRoot, id), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(hostDir, filepath.Join(scratchRoot, id, "upper")); err != nil {
		t.Fatal(err)
	}

	result := launch(t, Config{ScratchRoot: scratchRoot}, Descriptor{
		ID: id, ImageRoot: image, Argv: probe("write", "/planted", "from the container"),
	})
	if !errors.Is(result.err, ErrUntrustedScratch) {
		t.Errorf("Launch = %v, want ErrUntrustedScratch", result.err)
	}
	if _, err := os.Stat(filepath.Join(hostDir, "planted")); !os.IsNotExist(err) {
		t.Errorf("container write landed in the symlink target (stat: %v)", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []Config{
		{ScratchRoot: "relative"},
		{ScratchRoot: "/tmp/a,b"},
		{Driver: "vfs"},
		{WorkPolicy: "ignore"},
	}
	for _, config := range tests {
		if _, err := New(config); err == nil {
			t.Errorf("New(%+v) succeeded", config)
		}
	}
}

func TestFingerprintImageMissing(t *testing.T) {
	_, err := fingerprintImage(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrImageNotFound) {
		t.Errorf("fingerprintImage = %v, want ErrImageNotFound", err)
	}
}
