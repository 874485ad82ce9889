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
	"time"

	"github.com/AleutianAI/codeheal/services/llm"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// DefaultWorkspaceRoot is the parent of per-session workspaces.
const DefaultWorkspaceRoot = ".code_healing_temp"

// Config holds configuration for healing sessions.
type Config struct {
	// TestTimeout is the wall-clock limit for one test run.
	// Default: 30s
	TestTimeout time.Duration

	// TotalTimeout bounds an entire session.
	// Default: 10m
	TotalTimeout time.Duration

	// Temperature is the sampling temperature for code generation.
	// Default: 0.2
	Temperature float32

	// Pricing converts token usage into cost.
	// Default: 2.50 / 10.00 USD per million tokens
	Pricing llm.Pricing
}

// DefaultConfig returns a Config with sensible defaults.
//
// Outputs:
//
//	*Config - Configuration with default values
func DefaultConfig() *Config {
	return &Config{
		TestTimeout:  30 * time.Second,
		TotalTimeout: 10 * time.Minute,
		Temperature:  0.2,
		Pricing:      llm.DefaultPricing(),
	}
}

// Validate clamps out-of-range values in place.
//
// Outputs:
//
//	error - Always nil. Every field has a usable clamped value.
func (c *Config) Validate() error {
	if c.TestTimeout < time.Second {
		c.TestTimeout = time.Second
	}
	if c.TotalTimeout < c.TestTimeout {
		c.TotalTimeout = c.TestTimeout * MaxAttempts * 4
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Pricing.InputPerMillion < 0 {
		c.Pricing.InputPerMillion = 0
	}
	if c.Pricing.OutputPerMillion < 0 {
		c.Pricing.OutputPerMillion = 0
	}
	return nil
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithTestTimeout sets the per-run test timeout.
func WithTestTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TestTimeout = d
	}
}

// WithTotalTimeout sets the total session timeout.
func WithTotalTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TotalTimeout = d
	}
}

// WithTemperature sets the generation temperature.
func WithTemperature(t float32) Option {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithPricing sets the token pricing.
func WithPricing(p llm.Pricing) Option {
	return func(c *Config) {
		c.Pricing = p
	}
}

// NewConfig creates a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	_ = cfg.Validate()
	return cfg
}
