// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Paths.ScratchRoot != "/tmp/container" {
		t.Errorf("expected scratch_root=/tmp/container, got %s", cfg.Paths.ScratchRoot)
	}
	if cfg.Container.Driver != "kernel" || cfg.Container.WorkPolicy != "reset" {
		t.Errorf("expected kernel/reset, got %s/%s", cfg.Container.Driver, cfg.Container.WorkPolicy)
	}
	if !cfg.Container.MountProc {
		t.Error("expected mount_proc=true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresCellConfig(t *testing.T) {
	t.Setenv("CELL_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CELL_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "CELL_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithCellConfig(t *testing.T) {
	path := writeConfig(t, "cell.yaml", `
environment: staging
paths:
  scratch_root: /srv/cell
container:
  driver: fuse
  mount_proc: false
logging:
  level: debug
`)
	t.Setenv("CELL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Paths.ScratchRoot != "/srv/cell" {
		t.Errorf("expected scratch_root=/srv/cell, got %s", cfg.Paths.ScratchRoot)
	}
	if cfg.Container.Driver != "fuse" {
		t.Errorf("expected driver=fuse, got %s", cfg.Container.Driver)
	}
	if cfg.Container.MountProc {
		t.Error("expected mount_proc=false from file")
	}
	// Unset keys keep their defaults.
	if cfg.Container.WorkPolicy != "reset" {
		t.Errorf("expected work_policy default reset, got %s", cfg.Container.WorkPolicy)
	}
	level, err := cfg.LogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, %v; want debug", level, err)
	}
}

func TestLoadFile_ProductionDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "cell.yaml", "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Container.WorkPolicy != "reject" {
		t.Errorf("expected work_policy=reject in production, got %s", cfg.Container.WorkPolicy)
	}
	if !cfg.Container.VerifyImage {
		t.Error("expected verify_image=true in production")
	}
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "cell.yaml", `
environment: production
container:
  verify_image: true
production:
  paths:
    scratch_root: /var/lib/cell/scratch
    scratch_tmpfs: true
  container:
    work_policy: reset
    verify_image: false
  logging:
    level: warn
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Paths.ScratchRoot != "/var/lib/cell/scratch" {
		t.Errorf("expected scratch_root override, got %s", cfg.Paths.ScratchRoot)
	}
	if !cfg.Paths.ScratchTmpfs {
		t.Error("expected scratch_tmpfs=true from the override block")
	}
	if cfg.Container.WorkPolicy != "reset" {
		t.Errorf("expected explicit production block to replace defaults, got %s", cfg.Container.WorkPolicy)
	}
	if cfg.Container.VerifyImage {
		t.Error("expected verify_image=false from the override block")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected logging.level=warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadFile_OtherEnvironmentIgnored(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "cell.yaml", `
environment: development
staging:
  container:
    driver: fuse
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Container.Driver != "kernel" {
		t.Errorf("staging override applied in development: driver=%s", cfg.Container.Driver)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "cell.jsonc", `{
  // Scratch lives on the data disk.
  "paths": {"scratch_root": "/data/cell",},
  "container": {
    "work_policy": "reject", /* fail on leftovers */
  },
}`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.ScratchRoot != "/data/cell" || cfg.Container.WorkPolicy != "reject" {
		t.Errorf("JSONC values not applied: %+v", cfg)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "cell.yaml", "container:\n  drvier: fuse\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "cell.yaml", ""))
	if err != nil {
		t.Fatalf("LoadFile(empty): %v", err)
	}
	if cfg.Paths.ScratchRoot != "/tmp/container" {
		t.Errorf("empty file lost defaults: %+v", cfg.Paths)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("CELL_TEST_VAR", "from-env")

	tests := []struct {
		input string
		vars  map[string]string
		want  string
	}{
		{"${HOME}/images", map[string]string{"HOME": "/home/user"}, "/home/user/images"},
		{"${CELL_TEST_VAR}", nil, "from-env"},
		{"${CELL_UNSET_VAR:-/fallback}", nil, "/fallback"},
		{"${CELL_UNSET_VAR}", nil, ""},
		{"/plain/path", nil, "/plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, test.vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestLoadFile_ExpandsPaths(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	cfg, err := LoadFile(writeConfig(t, "cell.yaml", `
paths:
  scratch_root: ${CELL_SCRATCH:-/tmp/cell-scratch}
  images: ${HOME}/images
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.ScratchRoot != "/tmp/cell-scratch" {
		t.Errorf("scratch_root = %s", cfg.Paths.ScratchRoot)
	}
	if cfg.Paths.Images != "/home/tester/images" {
		t.Errorf("images = %s", cfg.Paths.Images)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "qa" }, "invalid environment"},
		{"scratch required", func(c *Config) { c.Paths.ScratchRoot = "" }, "paths.scratch_root is required"},
		{"scratch relative", func(c *Config) { c.Paths.ScratchRoot = "scratch" }, "paths.scratch_root must be absolute"},
		{"images relative", func(c *Config) { c.Paths.Images = "images" }, "paths.images must be absolute"},
		{"driver", func(c *Config) { c.Container.Driver = "vfs" }, "container.driver"},
		{"work policy", func(c *Config) { c.Container.WorkPolicy = "ignore" }, "container.work_policy"},
		{"default path", func(c *Config) { c.Container.DefaultPath = "/bin:bin" }, "container.default_path"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestResolveImage(t *testing.T) {
	cfg := Default()
	cfg.Paths.Images = "/var/lib/cell/images"

	tests := []struct {
		image   string
		want    string
		wantErr bool
	}{
		{"/images/alpine/", "/images/alpine", false},
		{"alpine", "/var/lib/cell/images/alpine", false},
		{"team/base", "/var/lib/cell/images/team/base", false},
		{"../etc", "", true},
		{"..", "", true},
		{"", "", true},
	}
	for _, test := range tests {
		got, err := cfg.ResolveImage(test.image)
		if (err != nil) != test.wantErr || got != test.want {
			t.Errorf("ResolveImage(%q) = %q, %v; want %q (error=%v)", test.image, got, err, test.want, test.wantErr)
		}
	}

	cfg.Paths.Images = ""
	if _, err := cfg.ResolveImage("alpine"); err == nil {
		t.Error("expected error resolving a relative image without paths.images")
	}
}
