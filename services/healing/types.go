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
	"strings"
	"time"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// MaxAttempts is the number of generate-write-test cycles per session.
const MaxAttempts = 3

// =============================================================================
// STATE
// =============================================================================

// State represents a state in the healing state machine.
type State string

const (
	// StateIdle is the state of a session that has not started.
	StateIdle State = "idle"

	// StateDetectLanguage classifies the task into a language.
	StateDetectLanguage State = "detect_language"

	// StateSetupWorkspace allocates the session's directory.
	StateSetupWorkspace State = "setup_workspace"

	// StateGenerate asks the model for initial or repaired code.
	StateGenerate State = "generate"

	// StateWrite parses the model output and writes files.
	StateWrite State = "write"

	// StateTest runs the language's test suite.
	StateTest State = "test"

	// StateRetry advances the attempt counter before a repair.
	StateRetry State = "retry"

	// StateSucceeded indicates all tests passed.
	StateSucceeded State = "succeeded"

	// StateFailed indicates the session ended without passing tests.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is terminal (succeeded or failed).
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsActive returns true if the state allows continued execution.
func (s State) IsActive() bool {
	switch s {
	case StateDetectLanguage, StateSetupWorkspace, StateGenerate,
		StateWrite, StateTest, StateRetry:
		return true
	default:
		return false
	}
}

// AllStates returns all valid healing states.
func AllStates() []State {
	return []State{
		StateIdle,
		StateDetectLanguage,
		StateSetupWorkspace,
		StateGenerate,
		StateWrite,
		StateTest,
		StateRetry,
		StateSucceeded,
		StateFailed,
	}
}

// validTransitions lists the edges of the state machine. Any active state
// may also move to StateFailed on cancellation.
var validTransitions = map[State][]State{
	StateIdle:           {StateDetectLanguage},
	StateDetectLanguage: {StateSetupWorkspace},
	StateSetupWorkspace: {StateGenerate},
	StateGenerate:       {StateWrite},
	StateWrite:          {StateTest},
	StateTest:           {StateRetry, StateSucceeded},
	StateRetry:          {StateGenerate},
}

// canTransition reports whether from -> to is an edge of the machine.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return from.IsActive()
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// REQUEST
// =============================================================================

// Request contains the input for a healing session.
type Request struct {
	// TaskDescription is the natural-language task. Required.
	TaskDescription string `json:"task_description"`

	// Language optionally skips detection. Empty means auto-detect.
	Language string `json:"language,omitempty"`
}

// Validate checks that the request has required fields.
func (r *Request) Validate() error {
	if r == nil || strings.TrimSpace(r.TaskDescription) == "" {
		return ErrEmptyTask
	}
	if r.Language != "" {
		if _, err := language.Parse(r.Language); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SESSION
// =============================================================================

// Churn counts changed lines between consecutive attempts' code.
type Churn struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// AttemptRecord summarises one generate-write-test cycle.
type AttemptRecord struct {
	// Number is the 1-based attempt number.
	Number int `json:"number"`

	CodeLength    int      `json:"code_length"`
	Files         []string `json:"files,omitempty"`
	FilesWritten  int      `json:"files_written"`
	WriteFailures int      `json:"write_failures"`
	SyntaxErrors  int      `json:"syntax_errors"`

	// TestFunctions counts test functions in the written files. Zero
	// usually means the model produced no tests.
	TestFunctions int `json:"test_functions"`

	// Churn is nil on the first attempt.
	Churn *Churn `json:"churn,omitempty"`

	Tested   bool          `json:"tested"`
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SessionUsage accumulates model token usage for a session.
type SessionUsage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Estimated        bool    `json:"estimated,omitempty"`
	CostUSD          float64 `json:"cost_usd"`
}

// Session is the state of one healing request.
//
// Thread Safety: NOT safe for concurrent use. A Session is owned by the
// run that created it until that run returns.
type Session struct {
	ID              string            `json:"session_id"`
	TaskDescription string            `json:"task_description"`
	Language        language.Language `json:"language"`

	// WorkingDirectory is absolute and set once.
	WorkingDirectory string `json:"working_directory"`

	// CurrentCode is the raw text of the most recent model reply.
	CurrentCode string `json:"current_code"`

	// TestOutput is the formatted output of the most recent test run.
	TestOutput string `json:"test_output"`

	// AttemptNumber is 0-based and never exceeds MaxAttempts-1.
	AttemptNumber int `json:"attempt_number"`

	Success      bool   `json:"success"`
	FinalMessage string `json:"final_message"`
	State        State  `json:"state"`

	History   []AttemptRecord `json:"history"`
	Usage     SessionUsage    `json:"usage"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Attempts returns the number of attempts consumed.
func (s *Session) Attempts() int {
	return s.AttemptNumber + 1
}

// Result is the externally visible outcome of a session.
type Result struct {
	SessionID        string            `json:"session_id"`
	Success          bool              `json:"success"`
	Attempts         int               `json:"attempts"`
	FinalCode        string            `json:"final_code"`
	TestOutput       string            `json:"test_output"`
	WorkingDirectory string            `json:"working_directory"`
	Message          string            `json:"message"`
	Language         language.Language `json:"language"`
	TaskDescription  string            `json:"task_description"`
	History          []AttemptRecord   `json:"history"`
	Usage            SessionUsage      `json:"usage"`
	DurationMS       int64             `json:"duration_ms"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Result projects the session onto its external result.
func (s *Session) Result() *Result {
	return &Result{
		SessionID:        s.ID,
		Success:          s.Success,
		Attempts:         s.Attempts(),
		FinalCode:        s.CurrentCode,
		TestOutput:       s.TestOutput,
		WorkingDirectory: s.WorkingDirectory,
		Message:          s.FinalMessage,
		Language:         s.Language,
		TaskDescription:  s.TaskDescription,
		History:          s.History,
		Usage:            s.Usage,
		DurationMS:       s.Duration.Milliseconds(),
		CreatedAt:        s.StartedAt,
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

func successMessage(attemptNumber int) string {
	return fmt.Sprintf("Success! All tests passed on attempt %d", attemptNumber+1)
}

func exhaustedMessage(testOutput string) string {
	return fmt.Sprintf("Failed after %d attempts. Last error:\n%s", MaxAttempts, testOutput)
}

func generationFailedMessage(attemptNumber int) string {
	return fmt.Sprintf("Failed to generate code on attempt %d", attemptNumber+1)
}

// FormatTestOutput combines captured streams for the repair prompt.
// Empty streams are omitted; both empty yields "No output captured".
func FormatTestOutput(stdout, stderr string) string {
	var parts []string
	if stderr != "" {
		parts = append(parts, "STDERR:\n"+stderr)
	}
	if stdout != "" {
		parts = append(parts, "STDOUT:\n"+stdout)
	}
	if len(parts) == 0 {
		return "No output captured"
	}
	return strings.Join(parts, "\n\n")
}
