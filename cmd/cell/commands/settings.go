// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cell/container"
	"github.com/bureau-foundation/cell/lib/config"
)

// settings holds the flags shared by commands that act on a container.
// Empty strings and false booleans leave the configuration file's value
// in place.
type settings struct {
	configPath  string
	scratchRoot  string
	scratchTmpfs bool
	driver       string
	workPolicy   string
}

func (s *settings) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.configPath, "config", "", "configuration file (default: $CELL_CONFIG, else built-in defaults)")
	flagSet.StringVar(&s.scratchRoot, "scratch-root", "", "parent of per-container scratch directories (overrides paths.scratch_root)")
	flagSet.BoolVar(&s.scratchTmpfs, "scratch-tmpfs", false, "mount a tmpfs on the scratch root if it is not a mount point (sets paths.scratch_tmpfs)")
	flagSet.StringVar(&s.driver, "driver", "", "overlay driver: kernel or fuse (overrides container.driver)")
	flagSet.StringVar(&s.workPolicy, "work-policy", "", "leftover work state handling: reset or reject (overrides container.work_policy)")
}

// load reads the configuration (from --config, then $CELL_CONFIG, then
// defaults), applies flag overrides, and validates the result.
func (s *settings) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case s.configPath != "":
		cfg, err = config.LoadFile(s.configPath)
	case os.Getenv("CELL_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if s.scratchRoot != "" {
		cfg.Paths.ScratchRoot = s.scratchRoot
	}
	if s.scratchTmpfs {
		cfg.Paths.ScratchTmpfs = true
	}
	if s.driver != "" {
		cfg.Container.Driver = s.driver
	}
	if s.workPolicy != "" {
		cfg.Container.WorkPolicy = s.workPolicy
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// launcherConfig converts validated configuration into launcher settings.
func launcherConfig(cfg *config.Config) (container.Config, error) {
	driver, err := container.ParseDriver(cfg.Container.Driver)
	if err != nil {
		return container.Config{}, err
	}
	policy, err := container.ParseWorkPolicy(cfg.Container.WorkPolicy)
	if err != nil {
		return container.Config{}, err
	}
	return container.Config{
		ScratchRoot:  cfg.Paths.ScratchRoot,
		ScratchTmpfs: cfg.Paths.ScratchTmpfs,
		Driver:       driver,
		WorkPolicy:   policy,
		MountProc:    cfg.Container.MountProc,
		DefaultPath:  cfg.Container.DefaultPath,
		VerifyImage:  cfg.Container.VerifyImage,
	}, nil
}

// descriptorArgs splits "<id> <image> [--] [command...]" and resolves
// the image against the configuration. Flag parsing stops at <id>, so a
// separating "--" reaches here unconsumed.
func descriptorArgs(cfg *config.Config, args []string) (container.Descriptor, error) {
	if len(args) < 2 {
		return container.Descriptor{}, fmt.Errorf("expected <id> <image>, got %d argument(s)", len(args))
	}
	imageRoot, err := cfg.ResolveImage(args[1])
	if err != nil {
		return container.Descriptor{}, err
	}
	argv := args[2:]
	if len(argv) > 0 && argv[0] == "--" {
		argv = argv[1:]
	}
	return container.Descriptor{
		ID:        args[0],
		ImageRoot: imageRoot,
		Argv:      argv,
	}, nil
}

// debugRequested reports whether CELL_DEBUG asks for debug logging.
func debugRequested() bool {
	switch os.Getenv("CELL_DEBUG") {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

// commandLevel returns the CLI log level: debug when asked for, else the
// configured level.
func commandLevel(cfg *config.Config, debug bool) slog.Level {
	if debug || debugRequested() {
		return slog.LevelDebug
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return slog.LevelInfo
	}
	return level
}
