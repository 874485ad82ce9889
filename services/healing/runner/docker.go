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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// pingTimeout bounds daemon availability checks.
const pingTimeout = 2 * time.Second

// DefaultPullTimeout bounds a missing test image pull. The pull is not
// counted against the test timeout.
const DefaultPullTimeout = 5 * time.Minute

// =============================================================================
// CONTAINER SPEC
// =============================================================================

// ContainerSpec describes one throwaway test container.
type ContainerSpec struct {
	// Image is the container image, e.g. rust:1.70-slim.
	Image string

	// Cmd is the command run inside the container.
	Cmd []string

	// HostDir is the host-side workspace directory to bind-mount.
	HostDir string

	// MountTarget is where HostDir appears inside the container.
	MountTarget string

	// NetworkDisabled runs the container with no network.
	NetworkDisabled bool

	// MemoryBytes caps container memory. Zero means unlimited.
	MemoryBytes int64

	// PidsLimit caps the process count. Zero means unlimited.
	PidsLimit int64
}

// ContainerExecutor runs a ContainerSpec to completion.
type ContainerExecutor interface {
	// Available reports whether the container runtime is reachable.
	Available(ctx context.Context) bool

	// RunContainer runs spec and returns its outcome, never an error.
	RunContainer(ctx context.Context, spec ContainerSpec, timeout time.Duration) Result
}

// =============================================================================
// DOCKER EXECUTOR
// =============================================================================

// DockerExecutor runs test containers through the Docker Engine API.
//
// Description:
//
//	Each run creates a named container, starts it, waits for it to stop or
//	for the timeout to fire (then SIGKILLs it), demultiplexes its logs into
//	stdout and stderr, and force-removes it.
//
// Thread Safety: Safe for concurrent use.
type DockerExecutor struct {
	client      *client.Client
	maxOutput   int
	pullTimeout time.Duration
	logger      *slog.Logger
}

// DockerOption configures a DockerExecutor.
type DockerOption func(*DockerExecutor)

// WithPullTimeout bounds image pulls. Non-positive values keep the default.
func WithPullTimeout(d time.Duration) DockerOption {
	return func(e *DockerExecutor) {
		if d > 0 {
			e.pullTimeout = d
		}
	}
}

// NewDockerExecutor creates an executor from the environment
// (DOCKER_HOST and friends) with API version negotiation.
//
// Inputs:
//
//	host - Optional daemon address overriding DOCKER_HOST.
//	maxOutput - Per-stream capture limit. Zero uses DefaultMaxOutputBytes.
//	logger - Logger for structured logging.
//	opts - Optional settings such as WithPullTimeout.
//
// Outputs:
//
//	*DockerExecutor - Executor ready for use
//	error - Non-nil if the client could not be constructed
func NewDockerExecutor(host string, maxOutput int, logger *slog.Logger, opts ...DockerOption) (*DockerExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client init failed: %w", err)
	}

	e := &DockerExecutor{
		client:      cli,
		maxOutput:   maxOutput,
		pullTimeout: DefaultPullTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Available pings the daemon.
func (e *DockerExecutor) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := e.client.Ping(pingCtx); err != nil {
		e.logger.Debug("Docker daemon unreachable", slog.String("error", err.Error()))
		return false
	}
	return true
}

// RunContainer creates, runs and removes one container.
//
// Description:
//
//	Mirrors ProcessExecutor semantics: exit status N maps to ExitCode N,
//	a timeout to ExitCode 124, and an API failure to ExitCode -1 with the
//	error in Stderr.
//
// Inputs:
//
//	ctx - Parent context.
//	spec - Container description.
//	timeout - Wall-clock limit for the container.
//
// Outputs:
//
//	Result - Execution outcome
//
// Thread Safety: Safe for concurrent use.
func (e *DockerExecutor) RunContainer(ctx context.Context, spec ContainerSpec, timeout time.Duration) Result {
	cmdline := "docker " + spec.Image + " " + strings.Join(spec.Cmd, " ")
	start := time.Now()

	if err := e.ensureImage(ctx, spec.Image); err != nil {
		return unavailable(cmdline, err.Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostCfg := &container.HostConfig{
		AutoRemove: false,
		CapDrop:    []string{"ALL"},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.HostDir,
			Target: spec.MountTarget,
		}},
	}
	if spec.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}
	if spec.MemoryBytes > 0 {
		hostCfg.Resources.Memory = spec.MemoryBytes
		hostCfg.Resources.MemorySwap = spec.MemoryBytes
	}
	if spec.PidsLimit > 0 {
		pids := spec.PidsLimit
		hostCfg.Resources.PidsLimit = &pids
	}

	name := "code-healing-" + uuid.New().String()[:12]
	created, err := e.client.ContainerCreate(runCtx, &container.Config{
		Image:           spec.Image,
		WorkingDir:      spec.MountTarget,
		Cmd:             spec.Cmd,
		AttachStdout:    true,
		AttachStderr:    true,
		Tty:             false,
		NetworkDisabled: spec.NetworkDisabled,
	}, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return unavailable(cmdline, fmt.Sprintf("docker container create failed: %v", err))
	}

	containerID := created.ID
	defer func() {
		_ = e.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := e.client.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return unavailable(cmdline, fmt.Sprintf("docker container start failed: %v", err))
	}

	e.logger.Debug("Test container started",
		slog.String("container", name),
		slog.String("image", spec.Image),
		slog.Duration("timeout", timeout),
	)

	result := Result{Command: cmdline}

	waitCh, errCh := e.client.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	outcome, code, waitErr := awaitContainer(ctx, runCtx, waitCh, errCh)
	if outcome == waitTimedOut || outcome == waitCancelled {
		_ = e.client.ContainerKill(context.Background(), containerID, "SIGKILL")
	}
	switch outcome {
	case waitCancelled:
		result.ExitCode = ExitCodeUnavailable
		result.Stderr = "Test execution cancelled"
		result.Duration = time.Since(start)
		return result
	case waitTimedOut:
		result.TimedOut = true
		result.ExitCode = ExitCodeTimeout
	case waitFailed:
		return unavailable(cmdline, fmt.Sprintf("docker container wait failed: %v", waitErr))
	default:
		result.ExitCode = code
	}

	stdout, stderr, truncated, logErr := e.readLogs(context.Background(), containerID)
	if logErr != nil {
		e.logger.Warn("Failed to read container logs",
			slog.String("container", name),
			slog.String("error", logErr.Error()),
		)
	}
	result.Stdout = stdout
	result.Stderr = stderr
	result.Truncated = truncated
	result.Duration = time.Since(start)

	if result.TimedOut {
		result.Stderr = timeoutMessage(timeout)
		e.logger.Warn("Test container timed out",
			slog.String("container", name),
			slog.Duration("timeout", timeout),
		)
	}
	result.Success = result.ExitCode == 0
	return result
}

// Close releases the underlying client.
func (e *DockerExecutor) Close() error {
	return e.client.Close()
}

// waitOutcome classifies how a container wait ended.
type waitOutcome int

const (
	waitExited waitOutcome = iota
	waitTimedOut
	waitCancelled
	waitFailed
)

// awaitContainer waits on the ContainerWait channels. A wait error that
// arrives after runCtx expired counts as the expiry, not as a failure.
func awaitContainer(ctx, runCtx context.Context, waitCh <-chan container.WaitResponse, errCh <-chan error) (waitOutcome, int, error) {
	expired := func() waitOutcome {
		if ctx.Err() != nil {
			return waitCancelled
		}
		return waitTimedOut
	}
	select {
	case <-runCtx.Done():
		return expired(), 0, runCtx.Err()
	case resp := <-waitCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return waitFailed, 0, errors.New(resp.Error.Message)
		}
		return waitExited, int(resp.StatusCode), nil
	case err := <-errCh:
		if runCtx.Err() != nil {
			return expired(), 0, err
		}
		return waitFailed, 0, err
	}
}

func (e *DockerExecutor) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := e.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, e.pullTimeout)
	defer cancel()

	e.logger.Info("Pulling test image",
		slog.String("image", imageName),
		slog.Duration("timeout", e.pullTimeout),
	)
	rc, pullErr := e.client.ImagePull(pullCtx, imageName, image.PullOptions{})
	if pullErr != nil {
		return fmt.Errorf("pull image %s: %w", imageName, errors.Join(pullErr, ErrDockerUnavailable))
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		if errors.Is(pullCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("pull image %s: timed out after %s: %w", imageName, e.pullTimeout, ErrDockerUnavailable)
		}
		return fmt.Errorf("pull image %s: %w", imageName, errors.Join(err, ErrDockerUnavailable))
	}
	return nil
}

func (e *DockerExecutor) readLogs(ctx context.Context, containerID string) (string, string, bool, error) {
	rc, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", false, err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, limit: e.maxOutput}
	errW := &limitedWriter{w: &stderr, limit: e.maxOutput}
	_, err = stdcopy.StdCopy(outW, errW, rc)
	return stdout.String(), stderr.String(), outW.truncated || errW.truncated, err
}
