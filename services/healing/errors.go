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
	"errors"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrEmptyTask indicates a request without a task description.
	ErrEmptyTask = errors.New("task description must not be empty")

	// ErrUnsupportedLanguage indicates a language outside the closed set.
	ErrUnsupportedLanguage = language.ErrUnsupported

	// ErrSessionTimeout indicates the session exceeded its total timeout.
	ErrSessionTimeout = errors.New("healing session timeout")

	// ErrSessionCancelled indicates the caller cancelled the session.
	ErrSessionCancelled = errors.New("healing session cancelled")

	// ErrMissingDependency indicates the orchestrator was built without a
	// required collaborator.
	ErrMissingDependency = errors.New("missing orchestrator dependency")

	// ErrDetection is matched by every *DetectionError.
	ErrDetection = errors.New("language detection failed")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// DetectionError indicates the language could not be classified.
// It is the only error that aborts a session before a workspace exists.
type DetectionError struct {
	// Raw is the model reply, if one was received.
	Raw string

	// Cause is the underlying transport or parse error.
	Cause error
}

// Error implements the error interface.
func (e *DetectionError) Error() string {
	if e.Cause != nil {
		return "language detection failed: " + e.Cause.Error()
	}
	return "language detection failed"
}

// Unwrap returns the underlying error.
func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrDetection) match any DetectionError.
func (e *DetectionError) Is(target error) bool {
	return target == ErrDetection
}

// StateTransitionError indicates an invalid state transition was attempted.
type StateTransitionError struct {
	From State
	To   State
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	return "invalid healing state transition: " + string(e.From) + " -> " + string(e.To)
}
