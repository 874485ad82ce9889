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
	"fmt"
	"log/slog"
	"strings"
)

// Backend names.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// Config selects and configures a backend.
type Config struct {
	Backend string `yaml:"backend" json:"backend" validate:"required,oneof=openai anthropic ollama"`
	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"-" json:"-"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty" validate:"omitempty,url"`
}

// New builds the configured backend wrapped in Traced.
//
// Outputs:
//
//	ChatModel - Ready-to-use model
//	error - ErrUnknownBackend, ErrMissingAPIKey or a construction error
func New(cfg Config, logger *slog.Logger) (ChatModel, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendOpenAI
	}

	var (
		model ChatModel
		err   error
	)
	switch backend {
	case BackendOpenAI:
		model, err = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, logger)
	case BackendAnthropic:
		model, err = NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL, logger)
	case BackendOllama:
		model, err = NewOllamaClient(cfg.BaseURL, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Traced(model, backend, logger), nil
}
