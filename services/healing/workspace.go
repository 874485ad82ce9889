// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healing

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// WorkspaceManager allocates per-session working directories.
type WorkspaceManager interface {
	// Setup creates a fresh, empty directory and returns its absolute path.
	Setup(lang language.Language) (string, error)
}

// TempWorkspaces creates uniquely named directories under a root.
// Directories are never removed so results can be inspected afterwards.
//
// Thread Safety: Safe for concurrent use.
type TempWorkspaces struct {
	root   string
	logger *slog.Logger
}

// NewTempWorkspaces creates a manager rooted at root.
//
// Inputs:
//
//	root - Parent directory. Empty uses DefaultWorkspaceRoot. Relative
//	       paths resolve against the process working directory.
//	logger - Logger. If nil, uses slog.Default().
func NewTempWorkspaces(root string, logger *slog.Logger) *TempWorkspaces {
	if root == "" {
		root = DefaultWorkspaceRoot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TempWorkspaces{root: root, logger: logger}
}

// Root returns the configured parent directory.
func (w *TempWorkspaces) Root() string {
	return w.root
}

// Setup creates <root>/code_healing_<lang>_<random>.
func (w *TempWorkspaces) Setup(lang language.Language) (string, error) {
	root, err := filepath.Abs(w.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "code_healing_"+lang.String()+"_")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	w.logger.Info("Workspace created",
		slog.String("path", dir),
		slog.String("language", lang.String()),
	)
	return dir, nil
}
