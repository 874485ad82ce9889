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

// =============================================================================
// EVENTS
// =============================================================================

// EventType names a progress event.
type EventType string

const (
	EventLanguageDetected EventType = "language_detected"
	EventWorkdirSetup     EventType = "workdir_setup"
	EventCodeGenerated    EventType = "code_generated"
	EventCodeWritten      EventType = "code_written"
	EventTestsPassed      EventType = "tests_passed"
	EventTestsFailed      EventType = "tests_failed"
	EventRetry            EventType = "retry"
	EventSuccess          EventType = "success"
	EventFailure          EventType = "failure"

	// EventError is emitted by transports when a session aborts.
	EventError EventType = "error"
)

// ErrorPreviewLimit caps the test output carried by tests_failed.
const ErrorPreviewLimit = 500

// Event is one progress notification. Data is one of the *Data types below.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// IsTerminal reports whether the event ends a stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventSuccess || e.Type == EventFailure || e.Type == EventError
}

// EventSink receives events in order. A non-nil error stops forwarding for
// the rest of the session; the session itself still completes.
type EventSink func(Event) error

type LanguageDetectedData struct {
	Language string `json:"language"`
}

type WorkdirSetupData struct {
	WorkingDirectory string `json:"working_directory"`
}

type CodeGeneratedData struct {
	CodeLength int `json:"code_length"`
}

type CodeWrittenData struct{}

type TestsPassedData struct {
	Message string `json:"message"`
}

type TestsFailedData struct {
	ErrorPreview string `json:"error_preview"`
}

type RetryData struct {
	// NextAttempt is the 1-based number of the attempt about to start.
	NextAttempt int `json:"next_attempt"`
}

// FinalData is carried by success and failure events.
type FinalData struct {
	Message          string `json:"message"`
	FinalCode        string `json:"final_code"`
	WorkingDirectory string `json:"working_directory"`
	Attempts         int    `json:"attempts"`
}

// ErrorData is carried by error events.
type ErrorData struct {
	Message string `json:"message"`
}

// =============================================================================
// MAPPER
// =============================================================================

// eventFor maps a completed step to the event it produces. The session
// must already reflect the step's effects.
func eventFor(step State, s *Session) (Event, bool) {
	switch step {
	case StateDetectLanguage:
		return Event{Type: EventLanguageDetected, Data: LanguageDetectedData{Language: s.Language.String()}}, true
	case StateSetupWorkspace:
		return Event{Type: EventWorkdirSetup, Data: WorkdirSetupData{WorkingDirectory: s.WorkingDirectory}}, true
	case StateGenerate:
		return Event{Type: EventCodeGenerated, Data: CodeGeneratedData{CodeLength: len(s.CurrentCode)}}, true
	case StateWrite:
		return Event{Type: EventCodeWritten, Data: CodeWrittenData{}}, true
	case StateTest:
		if s.Success {
			return Event{Type: EventTestsPassed, Data: TestsPassedData{Message: s.FinalMessage}}, true
		}
		return Event{Type: EventTestsFailed, Data: TestsFailedData{ErrorPreview: Preview(s.TestOutput)}}, true
	case StateRetry:
		return Event{Type: EventRetry, Data: RetryData{NextAttempt: s.AttemptNumber + 1}}, true
	case StateSucceeded, StateFailed:
		return FinalEvent(s), true
	default:
		return Event{}, false
	}
}

// FinalEvent builds the terminal success or failure event for s.
func FinalEvent(s *Session) Event {
	data := FinalData{
		Message:          s.FinalMessage,
		FinalCode:        s.CurrentCode,
		WorkingDirectory: s.WorkingDirectory,
		Attempts:         s.Attempts(),
	}
	if s.Success {
		return Event{Type: EventSuccess, Data: data}
	}
	return Event{Type: EventFailure, Data: data}
}

// Preview truncates output to ErrorPreviewLimit characters plus "...".
func Preview(output string) string {
	r := []rune(output)
	if len(r) <= ErrorPreviewLimit {
		return output
	}
	return string(r[:ErrorPreviewLimit]) + "..."
}
