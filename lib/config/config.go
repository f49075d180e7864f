// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for cell.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Container configures how containers are assembled and launched.
	Container ContainerConfig `yaml:"container"`

	// Logging configures the CLI's structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths     *PathsConfig       `yaml:"paths,omitempty"`
	Container *ContainerOverride `yaml:"container,omitempty"`
	Logging   *LoggingConfig     `yaml:"logging,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// ScratchRoot is the shared parent of per-container scratch
	// directories (upper, work, merged).
	// Default: /tmp/container
	ScratchRoot string `yaml:"scratch_root"`

	// ScratchTmpfs mounts a tmpfs on the scratch root the first time a
	// launch finds it unmounted. Set this when the scratch root is on
	// overlayfs (inside another container), which the kernel refuses as
	// an overlay upper layer.
	// Default: false
	ScratchTmpfs bool `yaml:"scratch_tmpfs"`

	// Images is the directory that relative image names are resolved
	// against. Empty means images must be given as absolute paths.
	Images string `yaml:"images"`
}

// ContainerConfig configures container assembly.
type ContainerConfig struct {
	// Driver selects the overlay implementation.
	// Values: "kernel", "fuse"
	// Default: kernel
	Driver string `yaml:"driver"`

	// WorkPolicy decides what happens to leftover overlay work state.
	// Values: "reset" (empty it and continue), "reject" (fail the launch)
	// Default: reset (development), reject (production)
	WorkPolicy string `yaml:"work_policy"`

	// MountProc mounts a fresh /proc inside the container.
	// Default: true
	MountProc bool `yaml:"mount_proc"`

	// DefaultPath is the search path for the command when PATH is unset.
	// Default: empty (the launcher's built-in path)
	DefaultPath string `yaml:"default_path"`

	// VerifyImage fingerprints the image before and after each launch.
	// Default: false (development), true (production)
	VerifyImage bool `yaml:"verify_image"`
}

// ContainerOverride is ContainerConfig with optional booleans, so an
// override block can set a flag to false.
type ContainerOverride struct {
	Driver      string `yaml:"driver"`
	WorkPolicy  string `yaml:"work_policy"`
	MountProc   *bool  `yaml:"mount_proc"`
	DefaultPath string `yaml:"default_path"`
	VerifyImage *bool  `yaml:"verify_image"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the minimum level logged.
	// Values: "debug", "info", "warn", "error"
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			ScratchRoot: "/tmp/container",
		},
		Container: ContainerConfig{
			Driver:     "kernel",
			WorkPolicy: "reset",
			MountProc:  true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the CELL_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks - if CELL_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("CELL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CELL_CONFIG environment variable not set; " +
			"set it to the path of your cell.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// Files ending in .json or .jsonc are accepted with comments and trailing
// commas; everything else is parsed as YAML. Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the stripped document goes
		// through the same decoder and struct tags.
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: stale work state fails the launch and the
		// image is verified untouched.
		if overrides == nil {
			verify := true
			overrides = &ConfigOverrides{
				Container: &ContainerOverride{
					WorkPolicy:  "reject",
					VerifyImage: &verify,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.ScratchRoot != "" {
			c.Paths.ScratchRoot = overrides.Paths.ScratchRoot
		}
		if overrides.Paths.Images != "" {
			c.Paths.Images = overrides.Paths.Images
		}
		if overrides.Paths.ScratchTmpfs {
			c.Paths.ScratchTmpfs = true
		}
	}

	if overrides.Container != nil {
		if overrides.Container.Driver != "" {
			c.Container.Driver = overrides.Container.Driver
		}
		if overrides.Container.WorkPolicy != "" {
			c.Container.WorkPolicy = overrides.Container.WorkPolicy
		}
		if overrides.Container.MountProc != nil {
			c.Container.MountProc = *overrides.Container.MountProc
		}
		if overrides.Container.DefaultPath != "" {
			c.Container.DefaultPath = overrides.Container.DefaultPath
		}
		if overrides.Container.VerifyImage != nil {
			c.Container.VerifyImage = *overrides.Container.VerifyImage
		}
	}

	if overrides.Logging != nil && overrides.Logging.Level != "" {
		c.Logging.Level = overrides.Logging.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.ScratchRoot = expandVars(c.Paths.ScratchRoot, vars)
	vars["CELL_SCRATCH_ROOT"] = c.Paths.ScratchRoot // Update for dependent paths.

	c.Paths.Images = expandVars(c.Paths.Images, vars)
	c.Container.DefaultPath = expandVars(c.Container.DefaultPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.ScratchRoot == "" {
		errs = append(errs, fmt.Errorf("paths.scratch_root is required"))
	} else if !filepath.IsAbs(c.Paths.ScratchRoot) {
		errs = append(errs, fmt.Errorf("paths.scratch_root must be absolute: %s", c.Paths.ScratchRoot))
	}
	if c.Paths.Images != "" && !filepath.IsAbs(c.Paths.Images) {
		errs = append(errs, fmt.Errorf("paths.images must be absolute: %s", c.Paths.Images))
	}

	if !contains([]string{"kernel", "fuse"}, c.Container.Driver) {
		errs = append(errs, fmt.Errorf("container.driver must be one of: [kernel fuse]"))
	}
	if !contains([]string{"reset", "reject"}, c.Container.WorkPolicy) {
		errs = append(errs, fmt.Errorf("container.work_policy must be one of: [reset reject]"))
	}
	if c.Container.DefaultPath != "" {
		for _, directory := range strings.Split(c.Container.DefaultPath, ":") {
			if !filepath.IsAbs(directory) {
				errs = append(errs, fmt.Errorf("container.default_path entry %q must be absolute", directory))
			}
		}
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level must be one of: [debug info warn error]")
	}
	return level, nil
}

// ResolveImage turns an image argument into an absolute path. Absolute
// arguments are returned cleaned; relative ones are joined to
// Paths.Images and must not climb out of it.
func (c *Config) ResolveImage(image string) (string, error) {
	if image == "" {
		return "", fmt.Errorf("image is required")
	}
	if filepath.IsAbs(image) {
		return filepath.Clean(image), nil
	}
	if c.Paths.Images == "" {
		return "", fmt.Errorf("image %q is relative and paths.images is not configured", image)
	}
	resolved := filepath.Join(c.Paths.Images, image)
	if !strings.HasPrefix(resolved, filepath.Clean(c.Paths.Images)+string(filepath.Separator)) {
		return "", fmt.Errorf("image %q resolves outside paths.images", image)
	}
	return resolved, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
