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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/codeheal/services/healing/language"
	"github.com/AleutianAI/codeheal/services/healing/prompts"
	"github.com/AleutianAI/codeheal/services/llm"
)

// PromptSource resolves prompt templates by name.
type PromptSource interface {
	Load(name string) (string, error)
}

// LanguageDetector classifies a task into a supported language.
type LanguageDetector interface {
	// Detect returns the language and the usage of the model call.
	// Any failure is reported as a *DetectionError.
	Detect(ctx context.Context, task string) (language.Language, llm.Usage, error)
}

// errNoJSONObject indicates the reply held no JSON object.
var errNoJSONObject = errors.New("no JSON object in reply")

// detectionSchema constrains the reply to the closed language set.
var detectionSchema = &llm.ResponseSchema{
	Name: "detected_language",
	Schema: json.RawMessage(`{"type":"object","properties":{"language":{"type":"string","enum":[` +
		quotedNames() + `]}},"required":["language"],"additionalProperties":false}`),
}

func quotedNames() string {
	names := language.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ",")
}

// ModelDetector asks a chat model for a structured language choice.
//
// Thread Safety: Safe for concurrent use.
type ModelDetector struct {
	model   llm.ChatModel
	prompts PromptSource
	logger  *slog.Logger
}

// NewModelDetector creates a detector.
//
// Inputs:
//
//	model - The chat model. Must not be nil.
//	prompts - Template source for the detection prompt.
//	logger - Logger. If nil, uses slog.Default().
func NewModelDetector(model llm.ChatModel, prompts PromptSource, logger *slog.Logger) *ModelDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelDetector{model: model, prompts: prompts, logger: logger}
}

// Detect implements LanguageDetector.
func (d *ModelDetector) Detect(ctx context.Context, task string) (language.Language, llm.Usage, error) {
	system, err := d.prompts.Load(prompts.LanguageDetection)
	if err != nil {
		return "", llm.Usage{}, &DetectionError{Cause: err}
	}

	temperature := float32(0)
	resp, err := d.model.Chat(ctx, []llm.Message{
		llm.System(system),
		llm.User("Task: " + task),
	}, llm.GenerationParams{Temperature: &temperature, Schema: detectionSchema})
	if err != nil {
		return "", llm.Usage{}, &DetectionError{Cause: err}
	}

	lang, err := parseDetection(resp.Content)
	if err != nil {
		d.logger.Warn("Language detection reply rejected",
			slog.String("reply", truncate(resp.Content, 200)),
			slog.String("error", err.Error()),
		)
		return "", resp.Usage, &DetectionError{Raw: resp.Content, Cause: err}
	}

	d.logger.Info("Language detected", slog.String("language", lang.String()))
	return lang, resp.Usage, nil
}

// parseDetection extracts {"language": "..."} from a model reply.
// Code fences and surrounding prose are tolerated.
func parseDetection(reply string) (language.Language, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return "", errNoJSONObject
	}

	var out struct {
		Language string `json:"language"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return "", fmt.Errorf("decode detection reply: %w", err)
	}
	return language.Parse(out.Language)
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
