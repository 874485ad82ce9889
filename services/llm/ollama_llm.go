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
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultOllamaURL is the standard local Ollama address.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is used when no model is configured.
	DefaultOllamaModel = "qwen2.5-coder"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	client  *api.Client
	baseURL string
	model   string
	logger  *slog.Logger
}

// NewOllamaClient creates a client for baseURL.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) (*OllamaClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
		logger.Warn("Ollama model not set, using default", slog.String("model", model))
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}

	logger.Info("Initializing Ollama client",
		slog.String("base_url", baseURL),
		slog.String("model", model),
	)
	return &OllamaClient{
		client:  api.NewClient(parsed, &http.Client{Timeout: 5 * time.Minute}),
		baseURL: baseURL,
		model:   model,
		logger:  logger,
	}, nil
}

// Model returns the configured model name.
func (o *OllamaClient) Model() string { return o.model }

// Chat implements ChatModel with streaming disabled.
func (o *OllamaClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error) {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: apiMessages,
		Stream:   &stream,
		Options:  buildOllamaOptions(params),
	}
	if params.Schema != nil {
		req.Format = params.Schema.Schema
	}

	var final api.ChatResponse
	var content strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	o.logger.Debug("Received response from Ollama",
		slog.String("done_reason", final.DoneReason),
		slog.Int("eval_count", final.EvalCount),
	)
	return &Response{
		Content:      content.String(),
		Model:        o.model,
		FinishReason: final.DoneReason,
		Usage: Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
		},
	}, nil
}

func buildOllamaOptions(params GenerationParams) map[string]any {
	opts := make(map[string]any)
	if params.Temperature != nil {
		opts["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		opts["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		opts["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		opts["stop"] = params.Stop
	}
	return opts
}
