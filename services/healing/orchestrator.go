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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/codeheal/services/healing/files"
	"github.com/AleutianAI/codeheal/services/healing/language"
	"github.com/AleutianAI/codeheal/services/healing/runner"
	"github.com/AleutianAI/codeheal/services/llm"
)

// FileWriter persists parsed files into a workspace.
type FileWriter interface {
	WriteAll(ctx context.Context, workdir string, lang language.Language, fs files.FileSet) *files.Report
}

// TestRunner runs a workspace's test suite.
type TestRunner interface {
	RunTests(ctx context.Context, workdir string, lang language.Language, timeout time.Duration) runner.Result
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Detector   LanguageDetector
	Workspaces WorkspaceManager
	Generator  CodeGenerator
	Writer     FileWriter
	Tests      TestRunner
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives healing sessions through the state machine.
//
// Thread Safety: Safe for concurrent use. Each call to Heal or Stream
// owns a private session.
type Orchestrator struct {
	config *Config
	deps   Dependencies
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator.
//
// Inputs:
//
//	cfg - Session configuration. If nil, uses DefaultConfig(). A clamped
//	      copy is kept; the caller's value is not modified.
//	deps - Collaborators. All fields are required.
//	logger - Logger for structured logging. If nil, uses slog.Default().
//
// Outputs:
//
//	*Orchestrator - Ready orchestrator
//	error - ErrMissingDependency if a collaborator is nil
func NewOrchestrator(cfg *Config, deps Dependencies, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clamped := *cfg
	_ = clamped.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Detector == nil:
		return nil, fmt.Errorf("%w: detector", ErrMissingDependency)
	case deps.Workspaces == nil:
		return nil, fmt.Errorf("%w: workspaces", ErrMissingDependency)
	case deps.Generator == nil:
		return nil, fmt.Errorf("%w: generator", ErrMissingDependency)
	case deps.Writer == nil:
		return nil, fmt.Errorf("%w: writer", ErrMissingDependency)
	case deps.Tests == nil:
		return nil, fmt.Errorf("%w: tests", ErrMissingDependency)
	}
	return &Orchestrator{config: &clamped, deps: deps, logger: logger}, nil
}

// Heal runs a session to completion and returns its final state.
//
// Outputs:
//
//	*Session - Final session. Non-nil whenever the request was valid.
//	error - Validation errors, *DetectionError, ErrSessionCancelled or
//	        ErrSessionTimeout. Test failures are not errors.
func (o *Orchestrator) Heal(ctx context.Context, req *Request) (*Session, error) {
	return o.Stream(ctx, req, nil)
}

// Stream runs a session and delivers progress events to sink as each
// step completes. A nil sink discards events.
//
// Description:
//
//	Event order for a session that ends on attempt k:
//	  language_detected, workdir_setup,
//	  (code_generated, code_written, tests_failed, retry) x (k-1),
//	  code_generated, code_written, tests_passed|tests_failed,
//	  success|failure
//
//	A generation that returns no code emits code_generated and then
//	failure. A detection failure emits nothing and returns the error.
//
// Outputs:
//
//	*Session - Final session
//	error - See Heal
func (o *Orchestrator) Stream(ctx context.Context, req *Request, sink EventSink) (*Session, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r := &run{
		o:    o,
		req:  req,
		sink: sink,
		session: &Session{
			ID:              uuid.NewString(),
			TaskDescription: req.TaskDescription,
			State:           StateIdle,
			StartedAt:       time.Now(),
		},
	}
	return r.execute(ctx)
}

// =============================================================================
// RUN
// =============================================================================

// run holds the mutable state of one session.
type run struct {
	o       *Orchestrator
	req     *Request
	sink    EventSink
	sinkErr error
	session *Session
	span    trace.Span
	logger  *slog.Logger

	current  *AttemptRecord
	prevCode string
}

func (r *run) execute(ctx context.Context) (*Session, error) {
	s := r.session
	r.logger = r.o.logger.With(slog.String("session_id", s.ID))

	ctx, span := startSessionSpan(ctx, s.ID)
	defer span.End()
	r.span = span

	r.logger.Info("Starting healing session",
		slog.Int("task_length", len(s.TaskDescription)),
		slog.String("language", r.req.Language),
	)

	ctx, cancel := context.WithTimeoutCause(ctx, r.o.config.TotalTimeout, ErrSessionTimeout)
	defer cancel()

	r.transition(ctx, StateDetectLanguage)

	var runErr error
	for !s.State.IsTerminal() {
		select {
		case <-ctx.Done():
			runErr = r.abort(ctx)
		default:
			if err := r.step(ctx); err != nil {
				r.finish(ctx)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return s, err
			}
		}
	}

	r.finish(ctx)
	r.emit(FinalEvent(s))
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	return s, runErr
}

// step executes one state of the machine. Only detection failures are
// returned; every other outcome is encoded in the session.
func (r *run) step(ctx context.Context) error {
	switch r.session.State {
	case StateDetectLanguage:
		return r.stepDetect(ctx)
	case StateSetupWorkspace:
		r.stepSetup(ctx)
	case StateGenerate:
		r.stepGenerate(ctx)
	case StateWrite:
		r.stepWrite(ctx)
	case StateTest:
		r.stepTest(ctx)
	case StateRetry:
		r.stepRetry(ctx)
	default:
		r.transition(ctx, StateFailed)
	}
	return nil
}

func (r *run) stepDetect(ctx context.Context) error {
	s := r.session
	if r.req.Language != "" {
		lang, err := language.Parse(r.req.Language)
		if err != nil {
			return err
		}
		s.Language = lang
		r.logger.Info("Using requested language", slog.String("language", lang.String()))
	} else {
		lang, usage, err := r.o.deps.Detector.Detect(ctx, s.TaskDescription)
		r.addUsage(usage)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var de *DetectionError
			if !errors.As(err, &de) {
				err = &DetectionError{Cause: err}
			}
			r.logger.Error("Language detection failed", slog.String("error", err.Error()))
			s.FinalMessage = err.Error()
			r.transition(ctx, StateFailed)
			return err
		}
		s.Language = lang
	}

	r.emitStep(StateDetectLanguage)
	r.transition(ctx, StateSetupWorkspace)
	return nil
}

func (r *run) stepSetup(ctx context.Context) {
	s := r.session
	dir, err := r.o.deps.Workspaces.Setup(s.Language)
	if err != nil {
		r.logger.Error("Workspace setup failed", slog.String("error", err.Error()))
		s.FinalMessage = "Failed to set up workspace: " + err.Error()
		r.transition(ctx, StateFailed)
		return
	}
	s.WorkingDirectory = dir

	r.emitStep(StateSetupWorkspace)
	r.transition(ctx, StateGenerate)
}

func (r *run) stepGenerate(ctx context.Context) {
	s := r.session
	r.current = &AttemptRecord{Number: s.AttemptNumber + 1}
	started := time.Now()

	var (
		gen Generation
		err error
	)
	if s.AttemptNumber == 0 {
		gen, err = r.o.deps.Generator.GenerateInitial(ctx, s.TaskDescription, s.Language)
	} else {
		gen, err = r.o.deps.Generator.GenerateFix(ctx, s.CurrentCode, s.TestOutput)
	}
	r.addUsage(gen.Usage)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("Code generation failed",
			slog.Int("attempt", s.Attempts()),
			slog.String("error", err.Error()),
		)
		gen.Code = ""
	}

	s.CurrentCode = gen.Code
	r.current.CodeLength = len(gen.Code)
	r.current.Duration = time.Since(started)
	if s.AttemptNumber > 0 {
		r.current.Churn = churn(r.prevCode, gen.Code)
	}
	r.prevCode = gen.Code

	r.emitStep(StateGenerate)

	if strings.TrimSpace(gen.Code) == "" {
		s.FinalMessage = generationFailedMessage(s.AttemptNumber)
		r.closeAttempt()
		r.transition(ctx, StateFailed)
		return
	}
	r.transition(ctx, StateWrite)
}

func (r *run) stepWrite(ctx context.Context) {
	s := r.session
	parsed := files.Parse(s.CurrentCode, s.Language)
	if len(parsed) == 0 {
		r.logger.Warn("No files found in generated code", slog.Int("attempt", s.Attempts()))
	}

	report := r.o.deps.Writer.WriteAll(ctx, s.WorkingDirectory, s.Language, parsed)
	r.current.Files = parsed.Names()
	if report != nil {
		r.current.FilesWritten = report.Written()
		r.current.WriteFailures = report.Failed()
		r.current.SyntaxErrors = report.SyntaxErrors()
		r.current.TestFunctions = report.TestFunctions()
	}
	r.logger.Debug("Files written",
		slog.Int("attempt", s.Attempts()),
		slog.Int("files_written", r.current.FilesWritten),
		slog.Int("write_failures", r.current.WriteFailures),
		slog.Int("syntax_errors", r.current.SyntaxErrors),
		slog.Int("test_functions", r.current.TestFunctions),
	)
	if r.current.FilesWritten > 0 && r.current.TestFunctions == 0 && report != nil && report.Inspected() {
		r.logger.Warn("Generated code contains no test functions", slog.Int("attempt", s.Attempts()))
	}

	r.emitStep(StateWrite)
	r.transition(ctx, StateTest)
}

func (r *run) stepTest(ctx context.Context) {
	s := r.session
	result := r.o.deps.Tests.RunTests(ctx, s.WorkingDirectory, s.Language, r.o.config.TestTimeout)
	if ctx.Err() != nil {
		return
	}
	recordTestRun(ctx, s.Language.String(), result.Duration, result.Success, result.TimedOut)

	s.Success = result.Success
	s.TestOutput = FormatTestOutput(result.Stdout, result.Stderr)

	r.current.Tested = true
	r.current.Success = result.Success
	r.current.ExitCode = result.ExitCode
	r.current.TimedOut = result.TimedOut
	r.current.Duration += result.Duration
	r.closeAttempt()

	r.logger.Info("Tests completed",
		slog.Int("attempt", s.Attempts()),
		slog.Bool("success", result.Success),
		slog.Int("exit_code", result.ExitCode),
	)

	switch {
	case s.Success:
		s.FinalMessage = successMessage(s.AttemptNumber)
		r.emitStep(StateTest)
		r.transition(ctx, StateSucceeded)
	case s.AttemptNumber < MaxAttempts-1:
		r.emitStep(StateTest)
		r.transition(ctx, StateRetry)
	default:
		s.FinalMessage = exhaustedMessage(s.TestOutput)
		r.emitStep(StateTest)
		r.transition(ctx, StateFailed)
	}
}

func (r *run) stepRetry(ctx context.Context) {
	r.session.AttemptNumber++
	r.logger.Info("Retrying with fix", slog.Int("attempt", r.session.Attempts()))
	r.emitStep(StateRetry)
	r.transition(ctx, StateGenerate)
}

// abort ends a session whose context is done.
func (r *run) abort(ctx context.Context) error {
	s := r.session
	err := ErrSessionCancelled
	if errors.Is(context.Cause(ctx), ErrSessionTimeout) {
		err = ErrSessionTimeout
		s.FinalMessage = fmt.Sprintf("Session timed out after %s", r.o.config.TotalTimeout)
	} else {
		s.FinalMessage = "Session cancelled"
	}
	s.Success = false
	r.closeAttempt()

	r.logger.Warn("Healing session aborted",
		slog.String("state", s.State.String()),
		slog.String("reason", err.Error()),
		slog.Duration("elapsed", time.Since(s.StartedAt)),
	)
	r.transition(ctx, StateFailed)
	return err
}

// finish stamps duration and cost and records metrics.
func (r *run) finish(ctx context.Context) {
	s := r.session
	s.Duration = time.Since(s.StartedAt)
	s.Usage.CostUSD = r.o.config.Pricing.Cost(llm.Usage{
		PromptTokens:     s.Usage.PromptTokens,
		CompletionTokens: s.Usage.CompletionTokens,
	})

	setSessionSpanResult(r.span, s)
	recordSessionMetrics(context.WithoutCancel(ctx), s)

	r.logger.Info("Healing session complete",
		slog.String("final_state", s.State.String()),
		slog.Bool("success", s.Success),
		slog.Int("attempts", s.Attempts()),
		slog.Duration("duration", s.Duration),
	)
}

// =============================================================================
// HELPERS
// =============================================================================

// transition moves to a new state.
func (r *run) transition(ctx context.Context, to State) {
	from := r.session.State
	if !canTransition(from, to) {
		err := &StateTransitionError{From: from, To: to}
		r.logger.Error("Invalid state transition", slog.String("error", err.Error()))
		to = StateFailed
	}
	r.session.State = to

	r.logger.Debug("State transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("attempt_number", r.session.AttemptNumber),
	)
	recordStateTransition(context.WithoutCancel(ctx), string(from), string(to))
	addStateTransitionEvent(r.span, from, to, r.session.AttemptNumber)
}

// closeAttempt appends the in-progress attempt to the history.
func (r *run) closeAttempt() {
	if r.current == nil {
		return
	}
	r.session.History = append(r.session.History, *r.current)
	r.current = nil
}

func (r *run) addUsage(u llm.Usage) {
	if u.Total() == 0 && !u.Estimated {
		return
	}
	s := r.session
	s.Usage.Calls++
	s.Usage.PromptTokens += u.PromptTokens
	s.Usage.CompletionTokens += u.CompletionTokens
	s.Usage.Estimated = s.Usage.Estimated || u.Estimated
}

func (r *run) emitStep(step State) {
	if ev, ok := eventFor(step, r.session); ok {
		r.emit(ev)
	}
}

// emit forwards ev unless the sink has already failed.
func (r *run) emit(ev Event) {
	if r.sink == nil || r.sinkErr != nil {
		return
	}
	if err := r.sink(ev); err != nil {
		r.sinkErr = err
		r.logger.Warn("Event sink failed, no further events will be sent",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// churn counts changed lines between two generations.
func churn(prev, cur string) *Churn {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(prev, cur)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	c := &Churn{}
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			c.LinesAdded += n
		case diffmatchpatch.DiffDelete:
			c.LinesRemoved += n
		}
	}
	return c
}
