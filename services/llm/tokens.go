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
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts with the GPT-4 encoding.
//
// Thread Safety: Safe for concurrent use.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     *TokenCounter
)

// DefaultTokenCounter returns a process-wide counter.
func DefaultTokenCounter() *TokenCounter {
	defaultCounterOnce.Do(func() {
		codec, err := tokenizer.ForModel(tokenizer.GPT4)
		if err != nil {
			defaultCounter = &TokenCounter{}
			return
		}
		defaultCounter = &TokenCounter{codec: codec}
	})
	return defaultCounter
}

// Count returns the token count of text, falling back to len/4.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Estimate builds a Usage for a call that did not report one.
func (tc *TokenCounter) Estimate(messages []Message, completion string) Usage {
	prompt := 0
	for _, m := range messages {
		prompt += tc.Count(m.Content)
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: tc.Count(completion),
		Estimated:        true,
	}
}

// =============================================================================
// PRICING
// =============================================================================

// Pricing is the per-million-token price of a model in USD.
type Pricing struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// DefaultPricing matches gpt-4o list prices.
func DefaultPricing() Pricing {
	return Pricing{InputPerMillion: 2.50, OutputPerMillion: 10.00}
}

// Cost returns the USD cost of u.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)*p.InputPerMillion/1_000_000 +
		float64(u.CompletionTokens)*p.OutputPerMillion/1_000_000
}
