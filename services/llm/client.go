// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts hosted and local chat models to a single interface.
//
// Backends:
//   - openai: OpenAI and any OpenAI-compatible endpoint (go-openai)
//   - anthropic: Claude models (anthropic-sdk-go)
//   - ollama: a local Ollama server (ollama/api)
//
// Every backend reports token usage. When a backend omits usage, Traced
// fills it in with a tiktoken estimate.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// ResponseSchema asks the backend to constrain output to a JSON schema.
// Backends without structured output ignore it.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// GenerationParams holds optional sampling parameters.
type GenerationParams struct {
	Temperature *float32        `json:"temperature"`
	TopP        *float32        `json:"top_p"`
	MaxTokens   *int            `json:"max_tokens"`
	Stop        []string        `json:"stop"`
	Schema      *ResponseSchema `json:"schema,omitempty"`
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// Estimated is true when counts came from a local tokenizer.
	Estimated bool `json:"estimated,omitempty"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		Estimated:        u.Estimated || o.Estimated,
	}
}

// Response is a completed chat call.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// ChatModel is implemented by every backend.
type ChatModel interface {
	// Chat sends messages and returns the assistant reply.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error)

	// Model returns the configured model name.
	Model() string
}

var (
	// ErrMissingAPIKey indicates a hosted backend was configured without a key.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrUnknownBackend indicates an unrecognised backend name.
	ErrUnknownBackend = errors.New("unknown llm backend")

	// ErrEmptyResponse indicates the backend returned no choices.
	ErrEmptyResponse = errors.New("llm returned no content")
)
