// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrExtensionMismatch indicates a file whose extension does not match
	// the session language.
	ErrExtensionMismatch = errors.New("file extension does not match language")

	// ErrPathEscapesWorkspace indicates an absolute path or one that
	// resolves outside the workspace.
	ErrPathEscapesWorkspace = errors.New("path escapes workspace")

	// ErrWriteFailed indicates an OS-level failure writing the file.
	ErrWriteFailed = errors.New("failed to write file")
)

// WriteError describes why a single file was not written.
type WriteError struct {
	// Name is the workspace-relative filename.
	Name string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return "write " + e.Name + ": " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// RESULTS
// =============================================================================

// WriteResult is the outcome for one file.
type WriteResult struct {
	// Name is the workspace-relative filename.
	Name string `json:"name"`

	// Path is the absolute path on disk.
	Path string `json:"path"`

	// Success indicates the file was written.
	Success bool `json:"success"`

	// Message is a human-readable outcome.
	Message string `json:"message"`

	// Bytes is the number of bytes written.
	Bytes int `json:"bytes"`

	// Syntax holds tree-sitter diagnostics for the written content.
	Syntax *SyntaxReport `json:"syntax,omitempty"`

	// Err is the failure cause, nil on success.
	Err error `json:"-"`
}

// Report aggregates the per-file results of one write step.
type Report struct {
	Results []WriteResult `json:"results"`
}

// Written returns the number of files written successfully.
func (r *Report) Written() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of files that were skipped or failed.
func (r *Report) Failed() int {
	return len(r.Results) - r.Written()
}

// SyntaxErrors returns the total syntax error count across written files.
func (r *Report) SyntaxErrors() int {
	n := 0
	for _, res := range r.Results {
		if res.Syntax != nil {
			n += res.Syntax.Errors
		}
	}
	return n
}

// Inspected reports whether any written file carries syntax diagnostics.
func (r *Report) Inspected() bool {
	for _, res := range r.Results {
		if res.Syntax != nil {
			return true
		}
	}
	return false
}

// TestFunctions returns the number of test functions found across written files.
func (r *Report) TestFunctions() int {
	n := 0
	for _, res := range r.Results {
		if res.Syntax != nil {
			n += res.Syntax.TestFunctions
		}
	}
	return n
}

// =============================================================================
// WRITER
// =============================================================================

// Writer persists parsed files into a workspace.
//
// Thread Safety: Safe for concurrent use. Callers must not write the same
// workspace from two goroutines at once.
type Writer struct {
	inspector *SyntaxInspector
	logger    *slog.Logger
}

// NewWriter creates a new file writer.
//
// Inputs:
//
//	inspector - Optional syntax inspector, nil disables diagnostics
//	logger - Logger for structured logging
//
// Outputs:
//
//	*Writer - Configured writer
func NewWriter(inspector *SyntaxInspector, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		inspector: inspector,
		logger:    logger,
	}
}

// WriteAll writes every file in the set.
//
// Description:
//
//	Files are written in lexical name order. Each file is validated and
//	written independently: an extension mismatch, a path escaping the
//	workspace, or an OS error marks that file failed and the remaining
//	files are still attempted.
//
// Inputs:
//
//	ctx - Context for cancellation of the syntax inspection
//	workdir - Absolute workspace directory
//	lang - Session language, determines the required extension
//	files - Files to write
//
// Outputs:
//
//	*Report - One result per file, never nil
func (w *Writer) WriteAll(ctx context.Context, workdir string, lang language.Language, files FileSet) *Report {
	report := &Report{Results: make([]WriteResult, 0, len(files))}

	for _, name := range files.Names() {
		res := w.writeOne(workdir, lang, name, files[name])
		if res.Success && w.inspector != nil {
			res.Syntax = w.inspector.Inspect(ctx, lang, []byte(files[name]))
			if res.Syntax != nil && res.Syntax.Errors > 0 {
				w.logger.Warn("Written file has syntax errors",
					slog.String("file", name),
					slog.Int("syntax_errors", res.Syntax.Errors),
				)
			}
		}
		report.Results = append(report.Results, res)
	}

	w.logger.Info("Wrote files",
		slog.String("workdir", workdir),
		slog.Int("written", report.Written()),
		slog.Int("failed", report.Failed()),
	)

	return report
}

func (w *Writer) writeOne(workdir string, lang language.Language, name, content string) WriteResult {
	res := WriteResult{Name: name}

	fail := func(cause error) WriteResult {
		res.Err = &WriteError{Name: name, Cause: cause}
		res.Message = res.Err.Error()
		w.logger.Error("Failed to write file",
			slog.String("file", name),
			slog.String("error", cause.Error()),
		)
		return res
	}

	path, err := resolve(workdir, name)
	if err != nil {
		return fail(err)
	}
	res.Path = path

	want := lang.Extension()
	if got := filepath.Ext(path); want == "" || got != want {
		return fail(fmt.Errorf("%w: %s file must end in %q, got %q", ErrExtensionMismatch, lang, want, got))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fail(fmt.Errorf("%w: create directory: %v", ErrWriteFailed, err))
	}

	// Atomic write: temp file in the same directory, then rename.
	tempPath := path + ".heal.tmp"
	if err := os.WriteFile(tempPath, []byte(content), 0644); err != nil {
		return fail(fmt.Errorf("%w: write temp: %v", ErrWriteFailed, err))
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fail(fmt.Errorf("%w: rename: %v", ErrWriteFailed, err))
	}

	res.Success = true
	res.Bytes = len(content)
	res.Message = fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)

	w.logger.Debug("Wrote file",
		slog.String("path", path),
		slog.Int("size", len(content)),
	)
	return res
}

// resolve joins name onto workdir and rejects anything outside it.
func resolve(workdir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesWorkspace, name)
	}
	root := filepath.Clean(workdir)
	path := filepath.Join(root, name)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesWorkspace, name)
	}
	return path, nil
}
