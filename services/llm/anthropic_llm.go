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
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultAnthropicModel is used when no model is configured.
	DefaultAnthropicModel = "claude-sonnet-4-5"

	// defaultAnthropicMaxTokens is required by the Messages API.
	defaultAnthropicMaxTokens = 8192
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicClient creates a client. baseURL may be empty.
func NewAnthropicClient(apiKey, model, baseURL string, logger *slog.Logger) (*AnthropicClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = DefaultAnthropicModel
		logger.Info("Anthropic model not set, using default", slog.String("model", model))
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (a *AnthropicClient) Model() string { return a.model }

// Chat implements ChatModel. System messages are lifted into the
// top-level system prompt. ResponseSchema is not supported and ignored.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error) {
	var systemParts []string
	apiMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleAssistant:
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			apiMessages = append(apiMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if params.MaxTokens != nil {
		maxTokens = int64(*params.MaxTokens)
	}
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  apiMessages,
		MaxTokens: maxTokens,
	}
	if len(systemParts) > 0 {
		req.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}
	if params.Temperature != nil {
		req.Temperature = anthropic.Float(float64(*params.Temperature))
	}
	if params.TopP != nil {
		req.TopP = anthropic.Float(float64(*params.TopP))
	}
	if len(params.Stop) > 0 {
		req.StopSequences = params.Stop
	}

	resp, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages call failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}

	var text strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text.WriteString(resp.Content[i].Text)
		}
	}

	a.logger.Debug("Received response from Anthropic",
		slog.String("stop_reason", string(resp.StopReason)),
	)
	return &Response{
		Content:      text.String(),
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
