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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for healing sessions.
var (
	tracer = otel.Tracer("codeheal.healing")
	meter  = otel.Meter("codeheal.healing")
)

// Metrics for healing sessions.
var (
	sessionLatency   metric.Float64Histogram
	sessionTotal     metric.Int64Counter
	stateTransitions metric.Int64Counter
	attemptsUsed     metric.Int64Histogram
	testRuns         metric.Int64Counter
	testLatency      metric.Float64Histogram
	llmTokens        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		sessionLatency, err = meter.Float64Histogram(
			"healing_session_duration_seconds",
			metric.WithDescription("Duration of healing sessions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sessionTotal, err = meter.Int64Counter(
			"healing_session_total",
			metric.WithDescription("Total number of healing sessions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stateTransitions, err = meter.Int64Counter(
			"healing_state_transitions_total",
			metric.WithDescription("Total number of healing state transitions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		attemptsUsed, err = meter.Int64Histogram(
			"healing_session_attempts",
			metric.WithDescription("Attempts consumed per healing session"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		testRuns, err = meter.Int64Counter(
			"healing_test_runs_total",
			metric.WithDescription("Total number of test runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		testLatency, err = meter.Float64Histogram(
			"healing_test_run_duration_seconds",
			metric.WithDescription("Duration of test runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		llmTokens, err = meter.Int64Counter(
			"healing_llm_tokens_total",
			metric.WithDescription("Model tokens consumed by healing sessions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startSessionSpan creates a span for a healing session.
func startSessionSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("healing.session_id", sessionID),
		),
	)
}

// setSessionSpanResult sets the result attributes on a session span.
func setSessionSpanResult(span trace.Span, s *Session) {
	span.SetAttributes(
		attribute.Bool("healing.success", s.Success),
		attribute.String("healing.language", s.Language.String()),
		attribute.String("healing.final_state", s.State.String()),
		attribute.Int("healing.attempts", s.Attempts()),
		attribute.Int("healing.prompt_tokens", s.Usage.PromptTokens),
		attribute.Int("healing.completion_tokens", s.Usage.CompletionTokens),
	)
}

// recordSessionMetrics records metrics for a finished session.
func recordSessionMetrics(ctx context.Context, s *Session) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", s.Language.String()),
		attribute.Bool("success", s.Success),
	)

	sessionLatency.Record(ctx, s.Duration.Seconds(), attrs)
	sessionTotal.Add(ctx, 1, attrs)
	attemptsUsed.Record(ctx, int64(s.Attempts()), attrs)
	llmTokens.Add(ctx, int64(s.Usage.PromptTokens), metric.WithAttributes(attribute.String("kind", "prompt")))
	llmTokens.Add(ctx, int64(s.Usage.CompletionTokens), metric.WithAttributes(attribute.String("kind", "completion")))
}

// recordTestRun records one test execution.
func recordTestRun(ctx context.Context, lang string, duration time.Duration, success, timedOut bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("language", lang),
		attribute.Bool("success", success),
		attribute.Bool("timed_out", timedOut),
	)
	testRuns.Add(ctx, 1, attrs)
	testLatency.Record(ctx, duration.Seconds(), attrs)
}

// recordStateTransition records a state transition event.
func recordStateTransition(ctx context.Context, from, to string) {
	if err := initMetrics(); err != nil {
		return
	}
	stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// addStateTransitionEvent adds a state transition event to the span.
func addStateTransitionEvent(span trace.Span, from, to State, attemptNumber int) {
	span.AddEvent("state_transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.Int("attempt_number", attemptNumber),
	))
}
