// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("codeheal.llm")

// TracedModel wraps a ChatModel with a span per call and fills in
// missing usage from a local tokenizer.
type TracedModel struct {
	inner   ChatModel
	backend string
	counter *TokenCounter
	logger  *slog.Logger
}

// Traced wraps inner. backend labels spans and logs.
func Traced(inner ChatModel, backend string, logger *slog.Logger) *TracedModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TracedModel{
		inner:   inner,
		backend: backend,
		counter: DefaultTokenCounter(),
		logger:  logger,
	}
}

// Model returns the wrapped model name.
func (t *TracedModel) Model() string { return t.inner.Model() }

// Chat implements ChatModel.
func (t *TracedModel) Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error) {
	ctx, span := tracer.Start(ctx, "llm.Chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.backend", t.backend),
			attribute.String("llm.model", t.inner.Model()),
			attribute.Int("llm.messages", len(messages)),
			attribute.Bool("llm.structured", params.Schema != nil),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := t.inner.Chat(ctx, messages, params)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		t.logger.Error("LLM call failed",
			slog.String("backend", t.backend),
			slog.String("model", t.inner.Model()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if resp.Usage.Total() == 0 {
		resp.Usage = t.counter.Estimate(messages, resp.Content)
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Bool("llm.usage_estimated", resp.Usage.Estimated),
	)
	t.logger.Debug("LLM call completed",
		slog.String("backend", t.backend),
		slog.Duration("duration", duration),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}
