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
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// Registry dispatches test runs to the Runner for a language.
//
// Thread Safety: Safe for concurrent reads after initialization.
// Register operations should only be done during setup.
type Registry struct {
	mu      sync.RWMutex
	runners map[language.Language]Runner
	logger  *slog.Logger
}

// NewRegistry creates a registry holding the given runners.
func NewRegistry(logger *slog.Logger, runners ...Runner) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		runners: make(map[language.Language]Runner, len(runners)),
		logger:  logger,
	}
	for _, rn := range runners {
		r.runners[rn.Language()] = rn
	}
	return r
}

// Register adds or replaces the runner for its language.
func (r *Registry) Register(rn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[rn.Language()] = rn
}

// Get returns the runner for lang.
func (r *Registry) Get(lang language.Language) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[lang]
	return rn, ok
}

// RunTests prepares workdir and runs its test suite.
//
// Description:
//
//	Never returns an error. A missing workspace, an unsupported language
//	and a failed Prepare each produce a Result with ExitCode -1.
//
// Inputs:
//
//	ctx - Context for cancellation
//	workdir - The workspace directory
//	lang - The workspace language
//	timeout - Wall-clock limit for the test process
//
// Outputs:
//
//	Result - Test outcome
//
// Thread Safety: Safe for concurrent use on distinct workspaces.
func (r *Registry) RunTests(ctx context.Context, workdir string, lang language.Language, timeout time.Duration) Result {
	if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
		return unavailable("", fmt.Sprintf("Working directory does not exist: %s", workdir))
	}

	rn, ok := r.Get(lang)
	if !ok {
		return unavailable("", fmt.Sprintf("Unsupported language: %s", lang))
	}

	if err := rn.Prepare(workdir); err != nil {
		r.logger.Warn("Workspace preparation failed",
			slog.String("language", lang.String()),
			slog.String("workdir", workdir),
			slog.String("error", err.Error()),
		)
		return unavailable("", fmt.Sprintf("Failed to prepare %s workspace: %v", lang, err))
	}

	result := rn.Run(ctx, workdir, timeout)

	r.logger.Info("Tests completed",
		slog.String("language", lang.String()),
		slog.Bool("success", result.Success),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("timed_out", result.TimedOut),
		slog.Duration("duration", result.Duration),
	)
	return result
}
