// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes a workspace's native test suite.
//
// Each supported language has a Runner that first prepares the workspace
// (scaffolding such as a build manifest) and then invokes the language's
// test tool as a child process with a wall-clock timeout:
//   - python: python -m pytest -v --tb=short --color=no
//   - rust: cargo test --color never, locally or inside a container
//
// Test outcomes, including a missing tool or a timeout, are returned as a
// Result value and never as an error. Success is exactly ExitCode == 0.
//
// # Thread Safety
//
// Runners and the Registry are safe for concurrent use on distinct
// workspaces.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// =============================================================================
// EXIT CODE CONVENTIONS
// =============================================================================

const (
	// ExitCodeUnavailable marks a run that never produced a process exit
	// status: missing tool, start failure, missing workspace, unsupported
	// language or cancellation.
	ExitCodeUnavailable = -1

	// ExitCodeTimeout marks a run killed after exceeding its timeout.
	ExitCodeTimeout = 124
)

// DefaultMaxOutputBytes bounds each of stdout and stderr.
const DefaultMaxOutputBytes = 256 * 1024

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrDockerUnavailable indicates the Docker daemon could not be reached.
	ErrDockerUnavailable = errors.New("docker daemon unavailable")
)

// =============================================================================
// RESULT
// =============================================================================

// Result contains the outcome of one test invocation.
//
// A Result is immutable once returned.
type Result struct {
	// Success is true exactly when ExitCode == 0.
	Success bool `json:"success"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error, or a diagnostic message when
	// no process ran.
	Stderr string `json:"stderr"`

	// ExitCode is the process exit status, ExitCodeUnavailable or
	// ExitCodeTimeout.
	ExitCode int `json:"exit_code"`

	// Command is the command line that was executed.
	Command string `json:"command"`

	// Duration is how long execution took.
	Duration time.Duration `json:"duration"`

	// TimedOut indicates the process was killed after the timeout.
	TimedOut bool `json:"timed_out"`

	// Truncated indicates stdout or stderr hit the capture limit.
	Truncated bool `json:"truncated"`
}

// unavailable builds a Result for a run that produced no exit status.
func unavailable(command, message string) Result {
	return Result{
		Success:  false,
		Stderr:   message,
		ExitCode: ExitCodeUnavailable,
		Command:  command,
	}
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner prepares and tests a workspace for one language.
type Runner interface {
	// Language returns the language this runner handles.
	Language() language.Language

	// Prepare ensures language scaffolding exists. Idempotent.
	Prepare(workdir string) error

	// Run executes the test suite in workdir, bounded by timeout.
	Run(ctx context.Context, workdir string, timeout time.Duration) Result
}
