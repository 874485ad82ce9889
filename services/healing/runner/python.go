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
	"log/slog"
	"time"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// DefaultPythonInterpreter is the interpreter used to launch pytest.
const DefaultPythonInterpreter = "python"

// PythonRunner runs pytest in the workspace.
//
// Thread Safety: Safe for concurrent use.
type PythonRunner struct {
	interpreter string
	exec        *ProcessExecutor
	logger      *slog.Logger
}

// NewPythonRunner creates a pytest runner.
//
// Inputs:
//
//	interpreter - Python executable. Empty uses DefaultPythonInterpreter.
//	exec - Process executor. Nil creates a default one.
//	logger - Logger for structured logging.
func NewPythonRunner(interpreter string, exec *ProcessExecutor, logger *slog.Logger) *PythonRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if interpreter == "" {
		interpreter = DefaultPythonInterpreter
	}
	if exec == nil {
		exec = NewProcessExecutor(0, logger)
	}
	return &PythonRunner{interpreter: interpreter, exec: exec, logger: logger}
}

// Language returns language.Python.
func (r *PythonRunner) Language() language.Language { return language.Python }

// Prepare is a no-op; pytest needs no scaffolding.
func (r *PythonRunner) Prepare(string) error { return nil }

// Run executes pytest with verbose, short-traceback, colorless output.
func (r *PythonRunner) Run(ctx context.Context, workdir string, timeout time.Duration) Result {
	return r.exec.Execute(ctx, r.command(workdir), timeout)
}

func (r *PythonRunner) command(workdir string) Command {
	return Command{
		Name: r.interpreter,
		Args: []string{"-m", "pytest", "-v", "--tb=short", "--color=no"},
		Dir:  workdir,
		Env:  []string{"PYTHONDONTWRITEBYTECODE=1"},
		NotFoundMessage: "Python interpreter '" + r.interpreter +
			"' not found. Ensure Python and pytest are installed.",
	}
}
