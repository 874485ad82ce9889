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
	"os/exec"
	"strings"
	"time"
)

// killGrace is how long Wait may block on inherited pipes after the
// process group has been killed.
const killGrace = 2 * time.Second

// =============================================================================
// COMMAND
// =============================================================================

// Command describes one child process invocation.
type Command struct {
	// Name is the executable, resolved through PATH.
	Name string

	// Args are the arguments after Name.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is appended to the inherited environment when non-empty.
	Env []string

	// NotFoundMessage replaces the default diagnostic when Name is not
	// installed.
	NotFoundMessage string
}

// String returns the command line as a single space-joined string.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// =============================================================================
// PROCESS EXECUTOR
// =============================================================================

// ProcessExecutor runs commands as child processes with a timeout.
//
// Description:
//
//	On timeout the whole process group is killed so that grandchildren
//	(pytest workers, rustc invocations) do not outlive the run. Stdout and
//	stderr are captured into separate bounded buffers.
//
// Thread Safety: Safe for concurrent use. Each execution creates its own process.
type ProcessExecutor struct {
	maxOutput int
	logger    *slog.Logger
}

// NewProcessExecutor creates a new executor.
//
// Inputs:
//
//	maxOutput - Per-stream capture limit in bytes. Zero uses DefaultMaxOutputBytes.
//	logger - Logger for structured logging. Nil uses slog.Default().
//
// Outputs:
//
//	*ProcessExecutor - Configured executor
func NewProcessExecutor(maxOutput int, logger *slog.Logger) *ProcessExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	return &ProcessExecutor{maxOutput: maxOutput, logger: logger}
}

// Execute runs c and waits for it to exit or for timeout to elapse.
//
// Description:
//
//	Never returns an error: every failure mode maps to a Result.
//	  - exit status N: ExitCode N, Success == (N == 0), even when a
//	    background child kept stdout open after the process exited
//	  - timeout: ExitCode 124, TimedOut, stderr names the limit
//	  - tool missing: ExitCode -1, stderr is c.NotFoundMessage or a default
//	  - parent context cancelled: ExitCode -1, stderr says cancelled
//
// Inputs:
//
//	ctx - Parent context. Cancellation kills the process.
//	c - The command to run
//	timeout - Wall-clock limit for the process
//
// Outputs:
//
//	Result - Execution outcome
//
// Thread Safety: Safe for concurrent use.
func (e *ProcessExecutor) Execute(ctx context.Context, c Command, timeout time.Duration) Result {
	cmdline := c.String()
	if ctx == nil {
		return unavailable(cmdline, ErrNilContext.Error())
	}

	if _, err := exec.LookPath(c.Name); err != nil {
		msg := c.NotFoundMessage
		if msg == "" {
			msg = fmt.Sprintf("Command not found: %s. Ensure it is installed and on PATH.", c.Name)
		}
		e.logger.Warn("Test tool not found",
			slog.String("command", c.Name),
		)
		return unavailable(cmdline, msg)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: e.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: e.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	e.logger.Debug("Executing command",
		slog.String("command", cmdline),
		slog.String("dir", c.Dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	killProcessGroup(cmd)

	result := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Command:   cmdline,
		Duration:  duration,
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	// Parent cancellation takes precedence over the derived deadline.
	if ctx.Err() != nil {
		result.ExitCode = ExitCodeUnavailable
		result.Stderr = "Test execution cancelled"
		e.logger.Info("Test execution cancelled",
			slog.String("command", cmdline),
		)
		return result
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = ExitCodeTimeout
		result.Stderr = timeoutMessage(timeout)
		e.logger.Warn("Test execution timed out",
			slog.String("command", cmdline),
			slog.Duration("timeout", timeout),
		)
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case cmd.ProcessState != nil:
			// The process exited but a background child kept the pipes
			// open past WaitDelay (exec.ErrWaitDelay).
			result.ExitCode = cmd.ProcessState.ExitCode()
			e.logger.Debug("Output pipes held open after exit",
				slog.String("command", cmdline),
				slog.String("error", err.Error()),
			)
		default:
			result.ExitCode = ExitCodeUnavailable
			if result.Stderr == "" {
				result.Stderr = fmt.Sprintf("Failed to run %s: %v", c.Name, err)
			}
		}
	}
	result.Success = result.ExitCode == 0

	e.logger.Debug("Command completed",
		slog.String("command", cmdline),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", len(result.Stdout)),
		slog.Int("stderr_bytes", len(result.Stderr)),
	)
	return result
}

func timeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Test execution timed out after %d seconds", int(timeout.Seconds()))
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter wraps a writer with a size limit. Excess bytes are
// discarded and reported as written so the child never sees EPIPE.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return total, nil
	}

	if remaining := lw.limit - lw.written; len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err := lw.w.Write(p)
	lw.written += n
	if err != nil {
		return n, err
	}
	return total, nil
}
