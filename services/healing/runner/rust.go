// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// =============================================================================
// ISOLATION
// =============================================================================

// Isolation selects where cargo runs.
type Isolation string

const (
	// IsolationAuto uses the Docker API when the daemon answers a ping,
	// otherwise a local cargo.
	IsolationAuto Isolation = "auto"

	// IsolationLocal runs cargo on this machine.
	IsolationLocal Isolation = "local"

	// IsolationDockerCLI shells out to the docker binary.
	IsolationDockerCLI Isolation = "docker-cli"

	// IsolationDocker uses the Docker Engine API.
	IsolationDocker Isolation = "docker"
)

// ErrUnknownIsolation indicates an unrecognised isolation strategy.
var ErrUnknownIsolation = errors.New("unknown isolation strategy")

// ParseIsolation validates s. Empty selects IsolationAuto.
func ParseIsolation(s string) (Isolation, error) {
	switch Isolation(s) {
	case "":
		return IsolationAuto, nil
	case IsolationAuto, IsolationLocal, IsolationDockerCLI, IsolationDocker:
		return Isolation(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIsolation, s)
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// Cargo scaffolding written when a workspace has no manifest.
const (
	CargoManifestFile = "Cargo.toml"
	CargoManifest     = "[package]\nname = \"code_healing_test\"\nversion = \"0.1.0\"\nedition = \"2021\"\n\n[dependencies]\n"
)

// Container defaults.
const (
	DefaultRustImage        = "rust:1.70-slim"
	DefaultContainerWorkdir = "/app"
	dockerNotFoundMessage   = "Docker command not found. Ensure Docker is installed and running."
	cargoNotFoundMessage    = "Cargo not found. Ensure the Rust toolchain is installed."
)

// RustConfig configures the Rust runner.
type RustConfig struct {
	// Isolation selects where cargo runs.
	Isolation Isolation `yaml:"isolation" json:"isolation" validate:"omitempty,oneof=auto local docker-cli docker"`

	// Image is the container image for the docker strategies.
	Image string `yaml:"image" json:"image"`

	// ContainerWorkdir is the mount point inside the container.
	ContainerWorkdir string `yaml:"container_workdir" json:"container_workdir"`

	// Paths maps local workspace paths to Docker host paths.
	Paths PathMapping `yaml:"paths" json:"paths"`

	// NetworkDisabled runs containers without network access.
	NetworkDisabled bool `yaml:"network_disabled" json:"network_disabled"`

	// MemoryMB caps container memory for the docker strategy. Zero is unlimited.
	MemoryMB int64 `yaml:"memory_mb" json:"memory_mb" validate:"gte=0"`

	// PidsLimit caps container processes for the docker strategy.
	PidsLimit int64 `yaml:"pids_limit" json:"pids_limit" validate:"gte=0"`
}

// DefaultRustConfig returns the default configuration.
func DefaultRustConfig() RustConfig {
	return RustConfig{
		Isolation:        IsolationAuto,
		Image:            DefaultRustImage,
		ContainerWorkdir: DefaultContainerWorkdir,
		NetworkDisabled:  true,
		MemoryMB:         2048,
		PidsLimit:        512,
	}
}

// =============================================================================
// RUST RUNNER
// =============================================================================

// RustRunner runs cargo test for a workspace.
//
// Thread Safety: Safe for concurrent use.
type RustRunner struct {
	cfg    RustConfig
	exec   *ProcessExecutor
	docker ContainerExecutor
	logger *slog.Logger
}

// NewRustRunner creates a cargo runner.
//
// Inputs:
//
//	cfg - Runner configuration. Empty fields take defaults.
//	exec - Process executor for the local and docker-cli strategies.
//	docker - Container executor for the docker and auto strategies. May be nil.
//	logger - Logger for structured logging.
func NewRustRunner(cfg RustConfig, exec *ProcessExecutor, docker ContainerExecutor, logger *slog.Logger) *RustRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = NewProcessExecutor(0, logger)
	}
	defaults := DefaultRustConfig()
	if cfg.Isolation == "" {
		cfg.Isolation = defaults.Isolation
	}
	if cfg.Image == "" {
		cfg.Image = defaults.Image
	}
	if cfg.ContainerWorkdir == "" {
		cfg.ContainerWorkdir = defaults.ContainerWorkdir
	}
	return &RustRunner{cfg: cfg, exec: exec, docker: docker, logger: logger}
}

// Language returns language.Rust.
func (r *RustRunner) Language() language.Language { return language.Rust }

// Prepare lays out a minimal cargo project.
//
// Description:
//
//	Creates src/, moves a top-level lib.rs or main.rs into src/ unless
//	src/ already has one, and writes a default Cargo.toml if none exists.
//	Running it twice changes nothing.
//
// Inputs:
//
//	workdir - The workspace directory
//
// Outputs:
//
//	error - Non-nil on filesystem failure
func (r *RustRunner) Prepare(workdir string) error {
	srcDir := filepath.Join(workdir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return fmt.Errorf("create src dir: %w", err)
	}

	for _, name := range []string{"lib.rs", "main.rs"} {
		rootFile := filepath.Join(workdir, name)
		if _, err := os.Stat(rootFile); err != nil {
			continue
		}
		srcFile := filepath.Join(srcDir, name)
		if _, err := os.Stat(srcFile); err == nil {
			continue
		}
		if err := os.Rename(rootFile, srcFile); err != nil {
			return fmt.Errorf("move %s into src: %w", name, err)
		}
		r.logger.Debug("Moved rust source into src", slog.String("file", name))
	}

	manifest := filepath.Join(workdir, CargoManifestFile)
	if _, err := os.Stat(manifest); err == nil {
		return nil
	}
	if err := os.WriteFile(manifest, []byte(CargoManifest), 0644); err != nil {
		return fmt.Errorf("write %s: %w", CargoManifestFile, err)
	}
	return nil
}

// Run executes cargo test using the configured isolation strategy.
func (r *RustRunner) Run(ctx context.Context, workdir string, timeout time.Duration) Result {
	switch r.resolveIsolation(ctx) {
	case IsolationLocal:
		return r.exec.Execute(ctx, r.localCommand(workdir), timeout)
	case IsolationDockerCLI:
		return r.exec.Execute(ctx, r.dockerCLICommand(workdir), timeout)
	default:
		if r.docker == nil || !r.docker.Available(ctx) {
			return unavailable("docker "+r.cfg.Image+" cargo test --color never",
				"Docker daemon is not reachable. Ensure Docker is installed and running.")
		}
		return r.docker.RunContainer(ctx, r.containerSpec(workdir), timeout)
	}
}

func (r *RustRunner) resolveIsolation(ctx context.Context) Isolation {
	if r.cfg.Isolation != IsolationAuto {
		return r.cfg.Isolation
	}
	if r.docker != nil && r.docker.Available(ctx) {
		return IsolationDocker
	}
	r.logger.Debug("Docker unavailable, running cargo locally")
	return IsolationLocal
}

func (r *RustRunner) localCommand(workdir string) Command {
	return Command{
		Name:            "cargo",
		Args:            []string{"test", "--color", "never"},
		Dir:             workdir,
		NotFoundMessage: cargoNotFoundMessage,
	}
}

func (r *RustRunner) dockerCLICommand(workdir string) Command {
	args := []string{
		"run", "--rm",
		"--volume", r.hostPath(workdir) + ":" + r.cfg.ContainerWorkdir,
		"--workdir", r.cfg.ContainerWorkdir,
	}
	if r.cfg.NetworkDisabled {
		args = append(args, "--network", "none")
	}
	args = append(args, r.cfg.Image, "cargo", "test", "--color", "never")
	return Command{
		Name:            "docker",
		Args:            args,
		NotFoundMessage: dockerNotFoundMessage,
	}
}

func (r *RustRunner) containerSpec(workdir string) ContainerSpec {
	return ContainerSpec{
		Image:           r.cfg.Image,
		Cmd:             []string{"cargo", "test", "--color", "never"},
		HostDir:         r.hostPath(workdir),
		MountTarget:     r.cfg.ContainerWorkdir,
		NetworkDisabled: r.cfg.NetworkDisabled,
		MemoryBytes:     r.cfg.MemoryMB * 1024 * 1024,
		PidsLimit:       r.cfg.PidsLimit,
	}
}

func (r *RustRunner) hostPath(workdir string) string {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		abs = workdir
	}
	return r.cfg.Paths.ToHost(abs)
}
