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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/codeheal/services/healing/language"
	"github.com/AleutianAI/codeheal/services/healing/prompts"
	"github.com/AleutianAI/codeheal/services/llm"
)

// Generation is one model reply holding project files.
type Generation struct {
	Code  string
	Usage llm.Usage
}

// CodeGenerator produces initial and repaired code.
type CodeGenerator interface {
	// GenerateInitial writes a first implementation with tests.
	GenerateInitial(ctx context.Context, task string, lang language.Language) (Generation, error)

	// GenerateFix repairs previousCode given the failing test output.
	GenerateFix(ctx context.Context, previousCode, testOutput string) (Generation, error)
}

// ModelGenerator generates code with a chat model.
//
// Thread Safety: Safe for concurrent use.
type ModelGenerator struct {
	model       llm.ChatModel
	prompts     PromptSource
	temperature float32
	logger      *slog.Logger
}

// NewModelGenerator creates a generator.
//
// Inputs:
//
//	model - The chat model. Must not be nil.
//	prompts - Template source for the system and fix prompts.
//	temperature - Sampling temperature.
//	logger - Logger. If nil, uses slog.Default().
func NewModelGenerator(model llm.ChatModel, prompts PromptSource, temperature float32, logger *slog.Logger) *ModelGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelGenerator{model: model, prompts: prompts, temperature: temperature, logger: logger}
}

// GenerateInitial implements CodeGenerator.
func (g *ModelGenerator) GenerateInitial(ctx context.Context, task string, lang language.Language) (Generation, error) {
	system, err := g.prompts.Load(prompts.CodeHealingSystem)
	if err != nil {
		return Generation{}, fmt.Errorf("load system prompt: %w", err)
	}
	return g.chat(ctx, []llm.Message{
		llm.System(system),
		llm.User(fmt.Sprintf("Task: %s\nLanguage: %s", task, lang)),
	})
}

// GenerateFix implements CodeGenerator.
func (g *ModelGenerator) GenerateFix(ctx context.Context, previousCode, testOutput string) (Generation, error) {
	tmpl, err := g.prompts.Load(prompts.CodeHealingFix)
	if err != nil {
		return Generation{}, fmt.Errorf("load fix prompt: %w", err)
	}
	fix := prompts.Render(tmpl, map[string]string{
		"previous_code": previousCode,
		"test_output":   testOutput,
	})
	return g.chat(ctx, []llm.Message{llm.User(fix)})
}

func (g *ModelGenerator) chat(ctx context.Context, messages []llm.Message) (Generation, error) {
	temperature := g.temperature
	resp, err := g.model.Chat(ctx, messages, llm.GenerationParams{Temperature: &temperature})
	if err != nil {
		return Generation{}, err
	}
	g.logger.Debug("Code generated",
		slog.Int("length", len(resp.Content)),
		slog.String("finish_reason", resp.FinishReason),
	)
	return Generation{Code: resp.Content, Usage: resp.Usage}, nil
}
